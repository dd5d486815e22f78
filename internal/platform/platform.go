// 包 platform 为各平台提供统一的来源能力：收集列表引用、解析单条详情。
//
// 浏览器平台（weibo_home / xhs_user_notes）在页面上用 rules 预设驱动扫描与抽取；
// 订阅平台（rss / wechat_articles）从 RSS/Atom/JSON Feed 取条目，不需要浏览器。
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fetch-process/internal/fetch"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/rules"
)

// 平台种类，与任务类型一致。
const (
	KindWeiboHome      = "weibo_home"
	KindXHSUserNotes   = "xhs_user_notes"
	KindRSS            = "rss"
	KindWechatArticles = "wechat_articles"
)

var (
	// ErrLoggedOut 表示页面停在登录墙，需要更新登录态。
	ErrLoggedOut = errors.New("logged out")
	// ErrNoContent 表示详情页没有可用正文。
	ErrNoContent = errors.New("no content")
	// ErrNoURL 表示无法为引用构造详情地址。
	ErrNoURL = errors.New("no detail url")
)

// Source 为一个平台的来源能力。
type Source interface {
	Kind() string
	// Collect 从目标（主页地址或订阅地址）收集至多 limit 条引用，按列表顺序。
	Collect(ctx context.Context, target string, limit, scrolls int) ([]model.FeedItemRef, error)
	// Resolve 在独占的页面上解析一条引用。
	Resolve(ctx context.Context, p page.Page, ref model.FeedItemRef) (model.ItemDetail, error)
	// Opener 返回解析时为每条引用创建执行上下文的方式。
	Opener() page.Opener
}

// Deps 为构造来源所需的外部能力。
type Deps struct {
	// Browser 为浏览器平台打开标签页
	Browser page.Opener
	// HTTP 为订阅平台抓取订阅
	HTTP *fetch.Client
	// FeedSuffix 为订阅发现的优先后缀
	FeedSuffix string
	// ReadyTimeout 为等待列表/详情出现的上限，默认 20s
	ReadyTimeout time.Duration
	Now          func() time.Time
	// Pause 用于页面动作之间的等待，测试中可替换
	Pause func(context.Context, time.Duration) error
}

func (d *Deps) normalize() {
	if d.ReadyTimeout <= 0 {
		d.ReadyTimeout = 20 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Pause == nil {
		d.Pause = sleepCtx
	}
}

// New 按种类构造来源。
func New(kind string, preset rules.Preset, deps Deps) (Source, error) {
	deps.normalize()
	switch kind {
	case KindWeiboHome, KindXHSUserNotes:
		if deps.Browser == nil {
			return nil, fmt.Errorf("platform %s: browser is required", kind)
		}
		if preset.List == nil || preset.Detail == nil {
			return nil, fmt.Errorf("platform %s: list and detail rules are required", kind)
		}
		v := variants[kind]
		return &browserSource{kind: kind, preset: preset, variant: v, deps: deps}, nil
	case KindRSS, KindWechatArticles:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("platform %s: http client is required", kind)
		}
		return newFeedSource(kind, preset, deps), nil
	}
	return nil, fmt.Errorf("unsupported platform %q", kind)
}

// variant 为浏览器平台之间的差异：id 抽取与详情地址构造。
type variant struct {
	itemID    func(rawSlot) string
	detailURL func(base string, ref model.FeedItemRef) string
}

var variants = map[string]variant{
	KindWeiboHome:    {itemID: weiboID, detailURL: weiboDetailURL},
	KindXHSUserNotes: {itemID: xhsID, detailURL: xhsDetailURL},
}
