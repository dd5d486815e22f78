package platform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/rules"
)

var reIndex = regexp.MustCompile(`\d+`)

// domScanner 在列表页上实现 reconcile.Scanner。
type domScanner struct {
	page     page.Page
	list     *rules.List
	platform string
	itemID   func(rawSlot) string
	pause    func(context.Context, time.Duration) error
}

func (s *domScanner) Scan(ctx context.Context) ([]model.Slot, error) {
	var raw []rawSlot
	if err := s.page.Evaluate(ctx, scanScript, s.list, &raw); err != nil {
		return nil, fmt.Errorf("scan list: %w", err)
	}
	out := make([]model.Slot, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.Slot{
			Index:    parseIndex(r.Index),
			Order:    r.Order,
			ItemID:   s.itemID(r),
			Href:     cleanHref(r.Href),
			RawTime:  r.Time,
			Author:   r.Author,
			IsVideo:  r.Video,
			Top:      r.Top,
			Platform: s.platform,
		})
	}
	return out, nil
}

// parseIndex 取位置属性中的整数，缺失或无法解析返回 -1。
func parseIndex(raw string) int {
	m := reIndex.FindString(raw)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

func (s *domScanner) Reveal(ctx context.Context, index int) (bool, error) {
	if len(s.list.IndexAttrs) == 0 {
		return false, nil
	}
	arg := map[string]any{
		"wrapper": s.list.Wrapper,
		"item":    s.list.Item,
		"attrs":   s.list.IndexAttrs,
		"index":   index,
	}
	var found bool
	if err := s.page.Evaluate(ctx, revealScript, arg, &found); err != nil {
		return false, fmt.Errorf("reveal %d: %w", index, err)
	}
	if found {
		return true, s.pause(ctx, 600*time.Millisecond)
	}
	return false, nil
}

func (s *domScanner) Jiggle(ctx context.Context, step int) error {
	var start float64
	if err := s.page.Evaluate(ctx, nudgeScript, step, &start); err != nil {
		return fmt.Errorf("nudge: %w", err)
	}
	if err := s.pause(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	if err := s.page.Evaluate(ctx, scrollToScript, start, nil); err != nil {
		return fmt.Errorf("restore scroll: %w", err)
	}
	return s.pause(ctx, 250*time.Millisecond)
}

func (s *domScanner) ScrollPage(ctx context.Context) error {
	if err := s.page.Evaluate(ctx, scrollPageScript, nil, nil); err != nil {
		return fmt.Errorf("scroll page: %w", err)
	}
	return s.pause(ctx, time.Second)
}

// sleepCtx 等待 d 或直到 ctx 结束。
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
