package feishu_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fetch-process/internal/dedup"
	"fetch-process/internal/fetch"
	"fetch-process/internal/sink"
	"fetch-process/internal/sink/feishu"
)

// fakeBitable 模拟多维表格接口：文本主键列 "笔记ID"，数字列 "点赞"，超链接列 "链接"。
type fakeBitable struct {
	mu          sync.Mutex
	tokenCalls  int32
	fieldCalls  int32
	queryCalls  int32
	existing    []string
	written     []map[string]any
	rejectNums  bool // 为 true 时数字列收到非数字返回转换错误
	queryFilter []string
}

var reFilterID = regexp.MustCompile(`="([^"]*)"`)

func (f *fakeBitable) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"tok","expire":7200}`))
	})
	mux.HandleFunc("/bitable/v1/apps/app/tables/tbl/fields", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.fieldCalls, 1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"has_more":false,"items":[
			{"field_name":"笔记ID","type":1},{"field_name":"点赞","type":2},{"field_name":"链接","type":15}]}}`))
	})
	mux.HandleFunc("/bitable/v1/apps/app/tables/tbl/records", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			atomic.AddInt32(&f.queryCalls, 1)
			filter := r.URL.Query().Get("filter")
			f.queryFilter = append(f.queryFilter, filter)
			var items []map[string]any
			for _, m := range reFilterID.FindAllStringSubmatch(filter, -1) {
				for _, e := range f.existing {
					if e == m[1] {
						// 文本字段以富文本片段形式返回
						items = append(items, map[string]any{"fields": map[string]any{"笔记ID": []any{map[string]any{"text": e, "type": "text"}}}})
					}
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"items": items, "has_more": false}})
		case http.MethodPost:
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if _, isNum := body.Fields["点赞"].(float64); f.rejectNums && !isNum {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":1254060,"msg":"TextFieldConvFail","error":{"message":"Invalid request parameter: 'fields.点赞'."}}`))
				return
			}
			f.written = append(f.written, body.Fields)
			_, _ = w.Write([]byte(`{"code":0,"msg":"success"}`))
		}
	})
	return mux
}

func newClient(t *testing.T, f *fakeBitable, now func() time.Time) *feishu.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cl, err := fetch.New(fetch.Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	c, err := feishu.New(cl, feishu.Options{
		BaseURL: srv.URL, AppID: "id", AppSecret: "secret", AppToken: "app", TableID: "tbl",
		Mapping: sink.Mapping{sink.FieldNoteID: "笔记ID", sink.FieldLikes: "点赞", sink.FieldPostURL: "链接"},
		QPS:     1000,
		Now:     now,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	cl, _ := fetch.New(fetch.Options{})
	_, err := feishu.New(cl, feishu.Options{AppID: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "app_secret")
}

func TestBatchExistsChunksAndNormalizes(t *testing.T) {
	f := &fakeBitable{existing: []string{"a3", "b7"}}
	c := newClient(t, f, nil)

	ids := []string{"a3", "B7", "c9", "d1", "A3", ""}
	for i := 0; i < 60; i++ {
		ids = append(ids, fmt.Sprintf("x%02d", i))
	}
	got, err := c.BatchExists(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"a3": {}, "b7": {}}, got)
	require.Equal(t, int32(2), atomic.LoadInt32(&f.queryCalls))
	require.True(t, strings.HasPrefix(f.queryFilter[0], "OR(CurrentValue.[笔记ID]="))
	require.Equal(t, int32(1), atomic.LoadInt32(&f.tokenCalls))
}

func TestGateFindsMixedCaseStoredID(t *testing.T) {
	f := &fakeBitable{existing: []string{"PxYzAbc", "lower1"}}
	c := newClient(t, f, nil)

	existing := dedup.New(c).CheckExisting(context.Background(), []string{"PxYzAbc", "LOWER1", "NewOne"})
	require.Equal(t, map[string]struct{}{"pxyzabc": {}, "lower1": {}}, existing)
	require.False(t, dedup.Contains(existing, "NewOne"))
	require.Len(t, f.queryFilter, 1)
	require.Contains(t, f.queryFilter[0], `CurrentValue.[笔记ID]="PxYzAbc"`)
	require.Contains(t, f.queryFilter[0], `CurrentValue.[笔记ID]="lower1"`)
}

func TestTokenRefreshBeforeExpiry(t *testing.T) {
	f := &fakeBitable{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClient(t, f, func() time.Time { return now })

	_, err := c.BatchExists(context.Background(), []string{"a"})
	require.NoError(t, err)
	now = now.Add(7200*time.Second - 61*time.Second)
	_, err = c.BatchExists(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.tokenCalls))

	now = now.Add(2 * time.Second)
	_, err = c.BatchExists(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&f.tokenCalls))
}

func TestWriteUsesFieldTypes(t *testing.T) {
	f := &fakeBitable{}
	c := newClient(t, f, nil)
	rec := sink.Record{"笔记ID": "n1", "点赞": "1.2万", "链接": "https://x/n1"}
	require.NoError(t, c.Write(context.Background(), rec))
	require.NoError(t, c.Write(context.Background(), sink.Record{"笔记ID": "n2", "点赞": 3}))

	require.Len(t, f.written, 2)
	require.Equal(t, float64(12000), f.written[0]["点赞"])
	require.Equal(t, map[string]any{"link": "https://x/n1", "text": "https://x/n1"}, f.written[0]["链接"])
	require.Equal(t, int32(1), atomic.LoadInt32(&f.fieldCalls))
}

func TestWriteReturnsSchemaMismatch(t *testing.T) {
	f := &fakeBitable{rejectNums: true}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	cl, _ := fetch.New(fetch.Options{})
	c, err := feishu.New(cl, feishu.Options{BaseURL: srv.URL, AppID: "i", AppSecret: "s", AppToken: "app", TableID: "tbl", QPS: 1000})
	require.NoError(t, err)

	err = c.Write(context.Background(), sink.Record{"笔记ID": "n1", "点赞": "12"})
	require.NoError(t, err) // 已知类型为数字，直接转换

	// 字段类型接口不可用时按默认策略写入，由服务端报错后修复
	f2 := &fakeBitable{rejectNums: true}
	mux := http.NewServeMux()
	inner := f2.handler(t)
	mux.Handle("/", inner)
	mux.HandleFunc("/bitable/v1/apps/app/tables/tbl/fields", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":91403,"msg":"Forbidden"}`))
	})
	srv2 := httptest.NewServer(mux)
	defer srv2.Close()
	c2, err := feishu.New(cl, feishu.Options{BaseURL: srv2.URL, AppID: "i", AppSecret: "s", AppToken: "app", TableID: "tbl", QPS: 1000})
	require.NoError(t, err)

	err = c2.Write(context.Background(), sink.Record{"笔记ID": "n1", "点赞": "12"})
	var mm *sink.SchemaMismatchError
	require.ErrorAs(t, err, &mm)
	require.Equal(t, "点赞", mm.Field)
	require.Equal(t, sink.KindNumber, mm.Want)

	require.NoError(t, sink.WriteWithRepair(context.Background(), c2, sink.Record{"笔记ID": "n1", "点赞": "12"}, 2))
	require.Len(t, f2.written, 1)
	require.Equal(t, float64(12), f2.written[0]["点赞"])
}

func TestNormalizeFieldType(t *testing.T) {
	require.Equal(t, sink.KindNumber, feishu.NormalizeFieldType(float64(2)))
	require.Equal(t, sink.KindURL, feishu.NormalizeFieldType(float64(15)))
	require.Equal(t, sink.KindText, feishu.NormalizeFieldType("Text"))
	require.Equal(t, sink.KindNumber, feishu.NormalizeFieldType("number"))
	require.Equal(t, sink.Kind(""), feishu.NormalizeFieldType(nil))
}
