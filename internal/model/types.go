// 包 model 定义同步流程中的数据模型（列表引用/详情/统计/汇总）。
package model

import (
	"strings"
	"time"
)

// VideoSentinel 为仅含视频时 media 中允许出现的占位值。
const VideoSentinel = "视频"

// Slot 为一次列表扫描中读到的单个渲染槽位（原始数据，未去重）。
// Index < 0 表示槽位没有位置属性，由 reconcile 回退为 DOM 顺序。
type Slot struct {
	Index    int
	Order    int
	ItemID   string
	Href     string
	RawTime  string
	Author   string
	IsVideo  bool
	Top      float64
	Platform string
}

// FeedItemRef 表示列表视图中发现的一条内容引用，创建后不可变。
type FeedItemRef struct {
	OrderIndex int     `json:"order_index"`
	ItemID     string  `json:"item_id"`
	RawHref    string  `json:"raw_href"`
	RawTime    string  `json:"raw_time"`
	AuthorName string  `json:"author_name"`
	IsVideo    bool    `json:"is_video"`
	VisualTop  float64 `json:"visual_top"`
}

// Stats 为互动计数。
type Stats struct {
	Likes       int `json:"likes"`
	Collections int `json:"collections"`
	Comments    int `json:"comments"`
	Shares      int `json:"shares"`
}

// ItemDetail 为解析完成的单条内容详情，返回后只读。
type ItemDetail struct {
	ItemID    string   `json:"item_id"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Body      string   `json:"body"`
	Media     []string `json:"media"`
	Timestamp string   `json:"timestamp"`
	Tags      string   `json:"tags,omitempty"`
	Stats     Stats    `json:"stats"`
	IsVideo   bool     `json:"is_video"`
	IsRetweet bool     `json:"is_retweet"`
	Platform  string   `json:"platform"`
}

// HasMedia 判断详情是否包含可用媒体（非空且非 data: URI）。
func (d ItemDetail) HasMedia() bool {
	for _, m := range d.Media {
		if m != "" && !strings.HasPrefix(m, "data:") {
			return true
		}
	}
	return false
}

// TargetState 为单个来源目标的同步状态。
type TargetState string

const (
	StateCollecting   TargetState = "COLLECTING"
	StateDeduping     TargetState = "DEDUPING"
	StateProcessing   TargetState = "PROCESSING"
	StateDone         TargetState = "DONE"
	StateStoppedEarly TargetState = "STOPPED_EARLY"
	StateFailed       TargetState = "FAILED"
)

// TargetSummary 为单个目标的计数汇总。
type TargetSummary struct {
	Target     string      `json:"target"`
	Task       string      `json:"task"`
	State      TargetState `json:"state"`
	Candidates int         `json:"candidates"`
	Existing   int         `json:"existing"`
	Skipped    int         `json:"skipped"`
	Resolved   int         `json:"resolved"`
	Failed     int         `json:"failed"`
	Invalid    int         `json:"invalid"`
	Stale      int         `json:"stale"`
	Written    int         `json:"written"`
	Error      string      `json:"error,omitempty"`
}

// Report 为一次运行（全部任务）的汇总。
type Report struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Targets    []TargetSummary `json:"targets"`
}

// Totals 汇总全部目标的计数。
func (r Report) Totals() TargetSummary {
	var t TargetSummary
	t.Target = "total"
	for _, s := range r.Targets {
		t.Candidates += s.Candidates
		t.Existing += s.Existing
		t.Skipped += s.Skipped
		t.Resolved += s.Resolved
		t.Failed += s.Failed
		t.Invalid += s.Invalid
		t.Stale += s.Stale
		t.Written += s.Written
	}
	return t
}
