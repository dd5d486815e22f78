package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"fetch-process/internal/logx"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/recency"
	"fetch-process/internal/reconcile"
	"fetch-process/internal/rules"
)

// browserSource 为依赖渲染页面的平台来源。
type browserSource struct {
	kind    string
	preset  rules.Preset
	variant variant
	deps    Deps
}

func (s *browserSource) Kind() string        { return s.kind }
func (s *browserSource) Opener() page.Opener { return s.deps.Browser }

func (s *browserSource) Collect(ctx context.Context, target string, limit, scrolls int) ([]model.FeedItemRef, error) {
	p, err := s.deps.Browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open list page: %w", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	list := s.preset.List
	if list.Ready != "" {
		if err := p.WaitFor(ctx, readyScript, list.Ready, s.deps.ReadyTimeout); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logx.Warnf("[%s] 列表容器未出现，继续尝试扫描：%v", s.kind, err)
		}
	}
	if err := s.ensureLoggedIn(ctx, p); err != nil {
		return nil, err
	}
	if err := s.deps.Pause(ctx, time.Second); err != nil {
		return nil, err
	}

	sc := &domScanner{
		page:     p,
		list:     list,
		platform: s.preset.Platform,
		itemID:   s.variant.itemID,
		pause:    s.deps.Pause,
	}
	refs := reconcile.New(sc, reconcile.Options{}).Collect(ctx, limit, scrolls)
	if err := ctx.Err(); err != nil {
		return refs, err
	}
	logx.Infof("[%s] %s 收集到 %d 条引用", s.kind, target, len(refs))
	return refs, nil
}

// ensureLoggedIn 先看地址再看页面内容，命中登录墙返回 ErrLoggedOut。
func (s *browserSource) ensureLoggedIn(ctx context.Context, p page.Page) error {
	l := s.preset.Login
	if l == nil {
		return nil
	}
	if cur, err := p.URL(ctx); err == nil {
		low := strings.ToLower(cur)
		for _, m := range l.URLMarkers {
			if m != "" && strings.Contains(low, strings.ToLower(m)) {
				return fmt.Errorf("%s at %s: %w", s.kind, cur, ErrLoggedOut)
			}
		}
	}
	var wall bool
	if err := p.Evaluate(ctx, loginWallScript, l, &wall); err != nil {
		logx.Debugf("[%s] 登录检查失败：%v", s.kind, err)
		return nil
	}
	if wall {
		return fmt.Errorf("%s login wall: %w", s.kind, ErrLoggedOut)
	}
	return nil
}

func (s *browserSource) Resolve(ctx context.Context, p page.Page, ref model.FeedItemRef) (model.ItemDetail, error) {
	base := s.preset.BaseURL
	target := s.variant.detailURL(base, ref)
	if target == "" || isImageLink(target) {
		return model.ItemDetail{}, fmt.Errorf("resolve %s: %w", ref.ItemID, ErrNoURL)
	}
	if err := p.Navigate(ctx, target); err != nil {
		return model.ItemDetail{}, fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := s.ensureLoggedIn(ctx, p); err != nil {
		return model.ItemDetail{}, err
	}
	d := s.preset.Detail
	if d.Ready != "" {
		if err := p.WaitFor(ctx, readyScript, d.Ready, s.deps.ReadyTimeout); err != nil && ctx.Err() == nil {
			logx.Debugf("[%s] 详情 %s 未等到内容节点：%v", s.kind, ref.ItemID, err)
		}
	}
	for i := 0; i < d.Scrolls; i++ {
		if err := p.ScrollBy(ctx, 600); err != nil {
			break
		}
		if err := s.deps.Pause(ctx, 600*time.Millisecond); err != nil {
			return model.ItemDetail{}, err
		}
	}

	src, err := p.HTML(ctx)
	if err != nil {
		return model.ItemDetail{}, fmt.Errorf("read html %s: %w", target, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return model.ItemDetail{}, fmt.Errorf("parse html %s: %w", target, err)
	}
	final := target
	if cur, err := p.URL(ctx); err == nil && strings.HasPrefix(cur, "http") {
		final = cur
	}

	ex := extractDetail(doc, firstNonEmpty(final, base), d, s.deps.Now())
	if strings.TrimSpace(ex.Body) == "" {
		return model.ItemDetail{}, fmt.Errorf("resolve %s: %w", ref.ItemID, ErrNoContent)
	}
	detail := model.ItemDetail{
		ItemID:    ref.ItemID,
		URL:       final,
		Title:     ex.Title,
		Author:    firstNonEmpty(ex.Author, ref.AuthorName),
		Body:      ex.Body,
		Media:     ex.Media,
		Timestamp: ex.Time,
		Tags:      ex.Tags,
		Stats:     ex.Stats,
		IsVideo:   ex.IsVideo || ref.IsVideo,
		IsRetweet: ex.IsRetweet,
		Platform:  s.preset.Platform,
	}
	if detail.Timestamp == "" && ref.RawTime != "" {
		detail.Timestamp = firstNonEmpty(recency.Format(ref.RawTime, s.deps.Now()), ref.RawTime)
	}
	if detail.Title == "" {
		detail.Title = DeriveTitle(detail.Body, s.preset.Platform, ref.ItemID)
	}
	return detail, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
