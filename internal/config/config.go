// 包 config 负责加载与校验 settings.yaml：同步任务、写入端、浏览器与日志等配置。
// 密钥与 CI 开关可由环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 任务类型
const (
	TaskWeiboHome     = "weibo_home"
	TaskXHSUserNotes  = "xhs_user_notes"
	TaskRSS           = "rss"
	TaskWechatArticle = "wechat_articles"
)

// 写入端类型
const (
	SinkFeishu   = "feishu"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkMemory   = "memory"
)

type Config struct {
	Tasks       []Task          `yaml:"TASKS"`
	Sinks       map[string]Sink `yaml:"SINKS"`
	Feishu      Feishu          `yaml:"FEISHU"`
	Browser     Browser         `yaml:"BROWSER"`
	Concurrency Concurrency     `yaml:"CONCURRENCY"`
	WriteDelay  WriteDelay      `yaml:"WRITE_DELAY"`
	StaleStop   int             `yaml:"STALE_STOP"`
	RecencyDays int             `yaml:"RECENCY_DAYS"`
	Proxy       Proxy           `yaml:"PROXY"`

	// 仅作用于 sqlite 写入端：启动时清空，运行后清理超过天数的记录（0 不清理）
	ResetOnStart     bool `yaml:"RESET_ON_START"`
	OutdateCleanDays int  `yaml:"OUTDATE_CLEAN_DAYS"`

	LogLevel  string `yaml:"LOG_LEVEL"`
	LogFormat string `yaml:"LOG_FORMAT"` // pretty|json|text
	LogLocale string `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor  string `yaml:"LOG_COLOR"`  // auto|always|never
}

// Task 为一条同步任务：从若干来源收集条目并写入 Sink 指定的写入端。
type Task struct {
	Type   string     `yaml:"type"`
	Sink   string     `yaml:"sink"`
	Params TaskParams `yaml:"params"`
}

type TaskParams struct {
	UserURLs        []string `yaml:"user_urls"`
	PerAccountLimit int      `yaml:"per_account_limit"`
	Scrolls         int      `yaml:"scrolls"`
	CandidateFactor int      `yaml:"candidate_factor"`
	MinCandidates   int      `yaml:"min_candidates"`
	// 指针以区分未配置与显式 false
	ExcludeVideos *bool `yaml:"exclude_videos"`
	CheckRecency  *bool `yaml:"check_recency"`
	RecencyDays   int   `yaml:"recency_days"`
	// Preset 选择 rules.yaml 中的预设，空则按任务类型
	Preset string `yaml:"preset"`
	// FeedSuffix 用于 rss 类来源的订阅发现
	FeedSuffix string `yaml:"feed_suffix"`
}

// Sink 描述一个写入端。FieldMapping 为逻辑字段到列名的映射，空则用默认中文列名。
type Sink struct {
	Type         string            `yaml:"type"`
	AppToken     string            `yaml:"app_token"`
	TableID      string            `yaml:"table_id"`
	FieldMapping map[string]string `yaml:"field_mapping"`
	DSN          string            `yaml:"dsn"`
	Table        string            `yaml:"table"`
}

type Feishu struct {
	AppID     string  `yaml:"app_id"`
	AppSecret string  `yaml:"app_secret"`
	BaseURL   string  `yaml:"base_url"`
	QPS       float64 `yaml:"qps"`
}

type Browser struct {
	Headless   bool          `yaml:"headless"`
	AuthState  string        `yaml:"auth_state"`
	UserAgent  string        `yaml:"user_agent"`
	ExecPath   string        `yaml:"exec_path"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
	NavRetry   int           `yaml:"nav_retry"`
}

type Concurrency struct {
	Detail int `yaml:"detail"`
	Retry  int `yaml:"retry"`
}

// WriteDelay 为相邻两次写入之间的随机间隔区间。
type WriteDelay struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// ApplyEnv 用环境变量覆盖密钥与开关。FEISHU_BASE_* 仅覆盖未填写的 feishu 写入端。
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FEISHU_APP_ID"); v != "" {
		c.Feishu.AppID = v
	}
	if v := os.Getenv("FEISHU_APP_SECRET"); v != "" {
		c.Feishu.AppSecret = v
	}
	if v := os.Getenv("FETCH_UA"); v != "" {
		c.Browser.UserAgent = v
	}
	if v := os.Getenv("FETCH_HEADLESS"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			c.Browser.Headless = true
		case "0", "false", "no":
			c.Browser.Headless = false
		}
	}
	token, table := os.Getenv("FEISHU_BASE_APP_TOKEN"), os.Getenv("FEISHU_BASE_TABLE_ID")
	for name, s := range c.Sinks {
		if s.Type != "" && s.Type != SinkFeishu {
			continue
		}
		if s.AppToken == "" {
			s.AppToken = token
		}
		if s.TableID == "" {
			s.TableID = table
		}
		c.Sinks[name] = s
	}
}

func (c *Config) Validate() error {
	if c.StaleStop < 0 {
		return errors.New("STALE_STOP must be >= 0")
	}
	if c.StaleStop == 0 {
		c.StaleStop = 3
	}
	if c.RecencyDays < 0 {
		return errors.New("RECENCY_DAYS must be >= 0")
	}
	if c.RecencyDays == 0 {
		c.RecencyDays = 14
	}
	if c.OutdateCleanDays < 0 {
		return errors.New("OUTDATE_CLEAN_DAYS must be >= 0")
	}
	if c.Concurrency.Detail <= 0 {
		c.Concurrency.Detail = 3
	}
	if c.Concurrency.Retry < 0 {
		return errors.New("CONCURRENCY.retry must be >= 0")
	}
	if c.WriteDelay.Min < 0 || c.WriteDelay.Max < c.WriteDelay.Min {
		return fmt.Errorf("WRITE_DELAY invalid: min=%s max=%s", c.WriteDelay.Min, c.WriteDelay.Max)
	}
	if c.WriteDelay.Min == 0 && c.WriteDelay.Max == 0 {
		c.WriteDelay = WriteDelay{Min: 5 * time.Second, Max: 10 * time.Second}
	}
	if c.Feishu.BaseURL == "" {
		c.Feishu.BaseURL = "https://open.feishu.cn/open-apis"
	}
	if c.Feishu.QPS <= 0 {
		c.Feishu.QPS = 5
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Browser.NavRetry <= 0 {
		c.Browser.NavRetry = 2
	}
	if c.Browser.AuthState == "" {
		c.Browser.AuthState = "auth_state.json"
	}

	for name, s := range c.Sinks {
		if s.Type == "" {
			s.Type = SinkFeishu
		}
		switch s.Type {
		case SinkFeishu:
			if s.AppToken == "" || s.TableID == "" {
				return fmt.Errorf("sink %s: app_token and table_id are required", name)
			}
		case SinkSQLite:
			if s.DSN == "" {
				s.DSN = "./data.db"
			}
		case SinkPostgres:
			if s.DSN == "" {
				return fmt.Errorf("sink %s: dsn is required", name)
			}
			if s.Table == "" {
				s.Table = "synced_items"
			}
		case SinkMemory:
		default:
			return fmt.Errorf("sink %s: unsupported type %q", name, s.Type)
		}
		c.Sinks[name] = s
	}

	for i := range c.Tasks {
		if err := c.Tasks[i].validate(c); err != nil {
			return fmt.Errorf("task #%d: %w", i, err)
		}
	}

	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

func (t *Task) validate(c *Config) error {
	switch t.Type {
	case TaskWeiboHome, TaskXHSUserNotes, TaskRSS, TaskWechatArticle:
	default:
		return fmt.Errorf("unsupported task type %q", t.Type)
	}
	if _, ok := c.Sinks[t.Sink]; !ok {
		return fmt.Errorf("unknown sink %q", t.Sink)
	}
	p := &t.Params
	if len(p.UserURLs) == 0 {
		return errors.New("params.user_urls is empty")
	}
	if p.PerAccountLimit < 0 || p.Scrolls < 0 || p.CandidateFactor < 0 || p.MinCandidates < 0 || p.RecencyDays < 0 {
		return errors.New("params must be >= 0")
	}
	if p.PerAccountLimit == 0 {
		p.PerAccountLimit = 10
	}
	if p.Scrolls == 0 {
		p.Scrolls = 1
	}
	if p.CandidateFactor == 0 {
		p.CandidateFactor = 4
	}
	if p.MinCandidates == 0 {
		p.MinCandidates = 40
	}
	if p.RecencyDays == 0 {
		p.RecencyDays = c.RecencyDays
	}
	if p.ExcludeVideos == nil {
		v := t.Type == TaskWeiboHome
		p.ExcludeVideos = &v
	}
	if p.CheckRecency == nil {
		v := true
		p.CheckRecency = &v
	}
	return nil
}

// CandidateCap 返回本任务每个来源最多收集的候选数：max(limit, max(min, limit*factor))。
func (p TaskParams) CandidateCap() int {
	n := p.PerAccountLimit * p.CandidateFactor
	if n < p.MinCandidates {
		n = p.MinCandidates
	}
	if n < p.PerAccountLimit {
		n = p.PerAccountLimit
	}
	return n
}

// Excludes 报告是否丢弃视频条目。
func (p TaskParams) Excludes() bool { return p.ExcludeVideos != nil && *p.ExcludeVideos }

// ChecksRecency 报告是否做时效过滤。
func (p TaskParams) ChecksRecency() bool { return p.CheckRecency == nil || *p.CheckRecency }

// Select 按下标（从 0 开始）或任务类型挑选任务；sel 为空返回全部。
func (c *Config) Select(sel string) ([]Task, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return c.Tasks, nil
	}
	var idx int
	if _, err := fmt.Sscanf(sel, "%d", &idx); err == nil && fmt.Sprint(idx) == sel {
		if idx < 0 || idx >= len(c.Tasks) {
			return nil, fmt.Errorf("task index %d out of range [0,%d)", idx, len(c.Tasks))
		}
		return []Task{c.Tasks[idx]}, nil
	}
	var out []Task
	for _, t := range c.Tasks {
		if t.Type == sel {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no task of type %q", sel)
	}
	return out, nil
}
