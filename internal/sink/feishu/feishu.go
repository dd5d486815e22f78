// 包 feishu 为飞书多维表格记录存储（type: feishu）：
// tenant token 缓存、字段类型发现、批量存在性查询（OR 过滤公式）与写入。
package feishu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fetch-process/internal/fetch"
	"fetch-process/internal/logx"
	"fetch-process/internal/model"
	"fetch-process/internal/sink"
)

const (
	DefaultBaseURL = "https://open.feishu.cn/open-apis"

	codeURLFieldConvFail = 1254068
	existsChunk          = 50
	pageSize             = 500
)

var reBadField = regexp.MustCompile(`fields\.(.*?)'`)

// Options 为客户端参数。
type Options struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string
	Mapping   sink.Mapping
	// QPS 为请求速率上限，默认 5
	QPS float64
	Now func() time.Time
}

// Client 实现 sink.Sink。
type Client struct {
	http    *fetch.Client
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	token    string
	expireAt time.Time
	types    map[string]sink.Kind
}

// New 创建客户端；缺少凭据或表信息时返回错误。
func New(cl *fetch.Client, opts Options) (*Client, error) {
	if cl == nil {
		return nil, errors.New("feishu: http client required")
	}
	var missing []string
	for name, v := range map[string]string{"app_id": opts.AppID, "app_secret": opts.AppSecret, "app_token": opts.AppToken, "table_id": opts.TableID} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("feishu: missing %s", strings.Join(missing, ","))
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if len(opts.Mapping) == 0 {
		opts.Mapping = sink.DefaultMapping()
	}
	if opts.QPS <= 0 {
		opts.QPS = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		http:    cl,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.QPS), 1),
	}, nil
}

type apiResp struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r apiResp) message() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return r.Msg
}

func (c *Client) tableURL(suffix string) string {
	return fmt.Sprintf("%s/bitable/v1/apps/%s/tables/%s/%s", c.opts.BaseURL, c.opts.AppToken, c.opts.TableID, suffix)
}

func (c *Client) call(ctx context.Context, method, rawURL string, payload, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}
	tok, err := c.tenantToken(ctx)
	if err != nil {
		return 0, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return c.http.JSON(ctx, method, rawURL, h, payload, out)
}

// tenantToken 获取或刷新 tenant_access_token，提前 60 秒过期。
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.opts.Now()
	if c.token != "" && now.Before(c.expireAt) {
		return c.token, nil
	}
	var out struct {
		apiResp
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	payload := map[string]string{"app_id": c.opts.AppID, "app_secret": c.opts.AppSecret}
	if _, err := c.http.JSON(ctx, http.MethodPost, c.opts.BaseURL+"/auth/v3/tenant_access_token/internal", nil, payload, &out); err != nil {
		return "", fmt.Errorf("get tenant token: %w", err)
	}
	if out.Code != 0 || out.Token == "" {
		return "", fmt.Errorf("get tenant token: code=%d msg=%s", out.Code, out.Msg)
	}
	c.token = out.Token
	c.expireAt = now.Add(time.Duration(out.Expire)*time.Second - 60*time.Second)
	return c.token, nil
}

// FieldTypes 获取并缓存 列名 → 字段类型；失败时返回空映射（按默认策略写入）。
func (c *Client) FieldTypes(ctx context.Context) map[string]sink.Kind {
	c.mu.Lock()
	cached := c.types
	c.mu.Unlock()
	if cached != nil {
		return cached
	}
	types := make(map[string]sink.Kind)
	pageToken := ""
	for {
		u := c.tableURL("fields?page_size=100")
		if pageToken != "" {
			u += "&page_token=" + url.QueryEscape(pageToken)
		}
		var out struct {
			apiResp
			Data struct {
				Items []struct {
					FieldName string `json:"field_name"`
					Type      any    `json:"type"`
				} `json:"items"`
				HasMore   bool   `json:"has_more"`
				PageToken string `json:"page_token"`
			} `json:"data"`
		}
		status, err := c.call(ctx, http.MethodGet, u, nil, &out)
		if err != nil || status >= 300 || out.Code != 0 {
			logx.Warnf("获取表字段类型失败，按默认策略写入：status=%d code=%d err=%v", status, out.Code, err)
			break
		}
		for _, it := range out.Data.Items {
			if it.FieldName != "" {
				types[it.FieldName] = NormalizeFieldType(it.Type)
			}
		}
		if !out.Data.HasMore || out.Data.PageToken == "" {
			break
		}
		pageToken = out.Data.PageToken
	}
	if len(types) > 0 {
		c.mu.Lock()
		c.types = types
		c.mu.Unlock()
	}
	return types
}

// kindCheckbox 仅在本包内使用：复选框字段写布尔值。
const kindCheckbox sink.Kind = "checkbox"

// NormalizeFieldType 把接口返回的字段类型（数字枚举或字符串）归一化。
func NormalizeFieldType(raw any) sink.Kind {
	switch v := raw.(type) {
	case float64:
		switch int(v) {
		case 2:
			return sink.KindNumber
		case 7:
			return kindCheckbox
		case 15:
			return sink.KindURL
		case 1:
			return sink.KindText
		}
	case string:
		t := strings.ToLower(strings.TrimSpace(v))
		switch {
		case strings.Contains(t, "number"):
			return sink.KindNumber
		case strings.Contains(t, "url"), strings.Contains(t, "link"):
			return sink.KindURL
		case strings.Contains(t, "checkbox"):
			return kindCheckbox
		case strings.Contains(t, "text"), strings.Contains(t, "string"):
			return sink.KindText
		}
	}
	return ""
}

// BatchExists 以 OR(CurrentValue.[列]="id",...) 分批查询，返回已存在的 id（小写）。
// 表格过滤区分大小写，每个 id 同时按原始写法和小写写法查询。
func (c *Client) BatchExists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	uniq := make([][]string, 0, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		n := sink.NormalizeID(id)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, spellings(id))
	}
	col := c.opts.Mapping.KeyColumn()
	for start := 0; start < len(uniq); start += existsChunk {
		end := min(start+existsChunk, len(uniq))
		var chunk []string
		for _, sp := range uniq[start:end] {
			chunk = append(chunk, sp...)
		}
		filter := orFilter(col, chunk)
		pageToken := ""
		for {
			q := url.Values{}
			q.Set("filter", filter)
			q.Set("page_size", strconv.Itoa(pageSize))
			q.Set("field_names", fmt.Sprintf("[%q]", col))
			if pageToken != "" {
				q.Set("page_token", pageToken)
			}
			var resp struct {
				apiResp
				Data struct {
					Items []struct {
						Fields map[string]any `json:"fields"`
					} `json:"items"`
					HasMore   bool   `json:"has_more"`
					PageToken string `json:"page_token"`
				} `json:"data"`
			}
			status, err := c.call(ctx, http.MethodGet, c.tableURL("records?"+q.Encode()), nil, &resp)
			if err != nil {
				return nil, fmt.Errorf("query records: %w", err)
			}
			if status >= 300 || resp.Code != 0 {
				return nil, fmt.Errorf("query records: status=%d code=%d msg=%s", status, resp.Code, resp.message())
			}
			for _, it := range resp.Data.Items {
				if v := fieldText(it.Fields[col]); v != "" {
					out[sink.NormalizeID(v)] = struct{}{}
				}
			}
			if !resp.Data.HasMore || resp.Data.PageToken == "" {
				break
			}
			pageToken = resp.Data.PageToken
		}
	}
	return out, nil
}

// spellings 返回 id 需要查询的写法：原始写法在前，小写不同时追加。
func spellings(id string) []string {
	raw := strings.TrimSpace(id)
	if low := sink.NormalizeID(raw); low != raw {
		return []string{raw, low}
	}
	return []string{raw}
}

func orFilter(col string, ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`CurrentValue.[%s]="%s"`, col, strings.ReplaceAll(id, `"`, `\"`)))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "OR(" + strings.Join(parts, ",") + ")"
}

// fieldText 兼容文本字段的两种返回形态：字符串或富文本片段数组。
func fieldText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []any:
		var b strings.Builder
		for _, seg := range x {
			if m, ok := seg.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					b.WriteString(s)
				}
			}
		}
		return b.String()
	case map[string]any:
		if s, ok := x["text"].(string); ok {
			return s
		}
		if s, ok := x["link"].(string); ok {
			return s
		}
	}
	return ""
}

// Write 按字段类型整理记录后写入；字段转换失败返回 *sink.SchemaMismatchError。
func (c *Client) Write(ctx context.Context, rec sink.Record) error {
	types := c.FieldTypes(ctx)
	fields := prepare(rec, types)
	var resp apiResp
	status, err := c.call(ctx, http.MethodPost, c.tableURL("records"), map[string]any{"fields": fields}, &resp)
	if err != nil {
		return fmt.Errorf("add record: %w", err)
	}
	if status < 300 && resp.Code == 0 {
		return nil
	}
	msg := resp.message()
	if m := reBadField.FindStringSubmatch(msg); m != nil {
		want := types[m[1]]
		if resp.Code == codeURLFieldConvFail || strings.Contains(resp.Msg, "URLFieldConvFail") {
			want = sink.KindURL
		}
		if want == "" || want == kindCheckbox {
			want = sink.KindNumber
		}
		return &sink.SchemaMismatchError{Field: m[1], Want: want, Code: resp.Code, Msg: msg}
	}
	return fmt.Errorf("add record: status=%d code=%d msg=%s", status, resp.Code, msg)
}

// prepare 按已知字段类型转换值；未知类型时数字/链接保持原样，布尔转文本。
func prepare(rec sink.Record, types map[string]sink.Kind) map[string]any {
	out := make(map[string]any, len(rec))
	for col, v := range rec {
		switch types[col] {
		case sink.KindNumber:
			switch x := v.(type) {
			case int:
				out[col] = x
			case bool:
				if x {
					out[col] = 1
				} else {
					out[col] = 0
				}
			default:
				out[col] = model.ParseCount(rec.Text(col))
			}
		case sink.KindURL:
			if l, ok := v.(sink.Link); ok {
				out[col] = l
			} else {
				s := rec.Text(col)
				out[col] = sink.Link{Link: s, Text: s}
			}
		case sink.KindText:
			out[col] = rec.Text(col)
		case kindCheckbox:
			if b, ok := v.(bool); ok {
				out[col] = b
			} else {
				out[col] = rec.Text(col) != ""
			}
		default:
			if b, ok := v.(bool); ok {
				out[col] = strconv.FormatBool(b)
			} else {
				out[col] = v
			}
		}
	}
	return out
}
