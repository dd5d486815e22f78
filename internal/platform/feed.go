package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"fetch-process/internal/feeds"
	"fetch-process/internal/logx"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/rules"
)

var reWechatID = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// errDetached 表示订阅来源的占位页面不支持页面操作。
var errDetached = errors.New("detached page: no browser behind feed sources")

// feedSource 以订阅为列表。Collect 缓存条目，Resolve 直接从缓存组装详情。
type feedSource struct {
	kind   string
	preset rules.Preset
	deps   Deps

	mu    sync.Mutex
	items map[string]feeds.Item
}

func newFeedSource(kind string, preset rules.Preset, deps Deps) *feedSource {
	return &feedSource{kind: kind, preset: preset, deps: deps, items: make(map[string]feeds.Item)}
}

func (s *feedSource) Kind() string { return s.kind }

// Opener 返回不依赖浏览器的占位页面。
func (s *feedSource) Opener() page.Opener {
	return page.OpenerFunc(func(ctx context.Context) (page.Page, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return detached{}, nil
	})
}

func (s *feedSource) Collect(ctx context.Context, target string, limit, _ int) ([]model.FeedItemRef, error) {
	items, err := feeds.Parse(ctx, s.deps.HTTP, target, limit)
	if err != nil {
		logx.Debugf("[%s] %s 不是订阅地址，尝试发现：%v", s.kind, target, err)
		found, derr := feeds.Discover(ctx, s.deps.HTTP, target, s.deps.FeedSuffix)
		if derr != nil {
			return nil, fmt.Errorf("collect %s: %w", target, errors.Join(err, derr))
		}
		if items, err = feeds.Parse(ctx, s.deps.HTTP, found, limit); err != nil {
			return nil, fmt.Errorf("collect %s: %w", target, err)
		}
	}

	now := s.deps.Now()
	refs := make([]model.FeedItemRef, 0, len(items))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range items {
		id := feedItemID(it)
		if id == "" {
			continue
		}
		s.items[id] = it
		refs = append(refs, model.FeedItemRef{
			OrderIndex: i,
			ItemID:     id,
			RawHref:    it.Link,
			RawTime:    feedTime(it.Published, now),
			AuthorName: it.Author,
		})
	}
	return refs, nil
}

// feedItemID 公众号文章取 /s/<id>；其它条目按 GUID 或链接生成稳定的 UUIDv5。
func feedItemID(it feeds.Item) string {
	if strings.Contains(it.Link, "mp.weixin.qq.com/s/") {
		if id := lastSegment(it.Link); reWechatID.MatchString(id) {
			return id
		}
	}
	key := firstNonEmpty(it.GUID, it.Link)
	if key == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func feedTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(now.Location()).Format("2006-01-02 15:04")
}

func (s *feedSource) Resolve(ctx context.Context, _ page.Page, ref model.FeedItemRef) (model.ItemDetail, error) {
	if err := ctx.Err(); err != nil {
		return model.ItemDetail{}, err
	}
	s.mu.Lock()
	it, ok := s.items[ref.ItemID]
	s.mu.Unlock()
	if !ok {
		return model.ItemDetail{}, fmt.Errorf("resolve %s: not collected", ref.ItemID)
	}

	var (
		body  string
		media = append([]string(nil), it.Images...)
	)
	if strings.TrimSpace(it.Content) != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(it.Content))
		if err != nil {
			return model.ItemDetail{}, fmt.Errorf("parse content %s: %w", ref.ItemID, err)
		}
		body = blockText(doc.Selection)
		media = append(media, collectMedia(doc.Selection, "body", true)...)
	}
	if body == "" {
		return model.ItemDetail{}, fmt.Errorf("resolve %s: %w", ref.ItemID, ErrNoContent)
	}
	detail := model.ItemDetail{
		ItemID:    ref.ItemID,
		URL:       it.Link,
		Title:     it.Title,
		Author:    firstNonEmpty(it.Author, ref.AuthorName),
		Body:      body,
		Media:     NormalizeMedia(media, firstNonEmpty(it.Link, s.preset.BaseURL)),
		Timestamp: ref.RawTime,
		Tags:      strings.Join(it.Categories, " "),
		Platform:  s.preset.Platform,
	}
	if detail.Title == "" {
		detail.Title = DeriveTitle(body, s.preset.Platform, ref.ItemID)
	}
	return detail, nil
}

// detached 为订阅来源的占位页面。
type detached struct{}

func (detached) Navigate(context.Context, string) error                         { return errDetached }
func (detached) URL(context.Context) (string, error)                            { return "", errDetached }
func (detached) Evaluate(context.Context, page.Script, any, any) error          { return errDetached }
func (detached) WaitFor(context.Context, page.Script, any, time.Duration) error { return errDetached }
func (detached) ScrollBy(context.Context, float64) error                        { return errDetached }
func (detached) HTML(context.Context) (string, error)                           { return "", errDetached }
func (detached) Close() error                                                   { return nil }
