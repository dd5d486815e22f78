// 包 reconcile 把回收复用的虚拟列表（DOM 节点随滚动被复用、重新编号）
// 收敛为去重且顺序稳定的 FeedItemRef 序列。
//
// 以逻辑位置 orderIndex 为键维护一个只增不改的 arena：
// 已捕获的位置不会被覆盖（唯一例外：先前捕获的条目没有 itemId，后续扫描到同一位置带 id 的条目时替换）。
package reconcile

import (
	"context"
	"sort"

	"fetch-process/internal/logx"
	"fetch-process/internal/model"
)

// Scanner 为列表页的探测能力，由各平台基于页面能力实现。
type Scanner interface {
	// Scan 读取当前渲染的全部槽位，同一次调用内返回稳定快照。
	Scan(ctx context.Context) ([]model.Slot, error)
	// Reveal 尝试把指定位置的槽位滚动到可视区；找到返回 true。
	Reveal(ctx context.Context, index int) (bool, error)
	// Jiggle 小幅下滚后恢复原位置，促使列表补渲染；step 随尝试次数递增。
	Jiggle(ctx context.Context, step int) error
	// ScrollPage 整页下滚。
	ScrollPage(ctx context.Context) error
}

// Options 控制单轮扫描的探测预算。
type Options struct {
	MaxAttempts int // 单轮最多扫描次数，默认 4
	Threshold   int // 首屏/滚动前阶段：最小缺失位置 ≤ Threshold 时继续探测，默认 3
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Threshold <= 0 {
		o.Threshold = 3
	}
}

// Reconciler 累积多轮扫描结果；可重复调用，只增不减。非并发安全。
type Reconciler struct {
	scanner Scanner
	opts    Options

	arena map[int]model.FeedItemRef
	seen  map[string]int // itemId → orderIndex
}

// New 创建 Reconciler。
func New(s Scanner, opts Options) *Reconciler {
	opts.normalize()
	return &Reconciler{
		scanner: s,
		opts:    opts,
		arena:   make(map[int]model.FeedItemRef),
		seen:    make(map[string]int),
	}
}

// Len 返回已捕获的位置数。
func (r *Reconciler) Len() int { return len(r.arena) }

// Collect 执行首屏扫描，然后最多 scrollBudget 次"滚动前扫描 → 整页下滚 → 滚动后扫描"，
// 返回按 (orderIndex, visualTop) 排序并截断到 limit 的引用。
// 采集方失败时返回已累积的结果，不返回错误。
func (r *Reconciler) Collect(ctx context.Context, limit, scrollBudget int) []model.FeedItemRef {
	if limit < 1 {
		limit = 1
	}
	if scrollBudget < 0 {
		scrollBudget = 0
	}
	if r.Pass(ctx, "首屏", limit, r.opts.Threshold) {
		return r.Refs(limit)
	}
	for i := 0; i < scrollBudget; i++ {
		if ctx.Err() != nil {
			break
		}
		if r.Pass(ctx, "滚动前", limit, r.opts.Threshold) {
			break
		}
		if err := r.scanner.ScrollPage(ctx); err != nil {
			logx.Warnf("列表整页滚动失败（第 %d 次）：%v", i+1, err)
			break
		}
		if r.Pass(ctx, "滚动后", limit, 0) {
			break
		}
	}
	refs := r.Refs(limit)
	logx.Infof("列表收集完成：%d 个位置，返回 %d 条", len(r.arena), len(refs))
	return refs
}

// Pass 执行一轮扫描。threshold>0 时，若最小缺失位置 ≤ threshold，
// 会先尝试 Reveal 该位置，再做滚动-复位探测，直到用尽 MaxAttempts。
// 返回是否已达到 limit。
func (r *Reconciler) Pass(ctx context.Context, stage string, limit, threshold int) bool {
	revealed := make(map[int]bool)
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return len(r.arena) >= limit
		}
		slots, err := r.scanner.Scan(ctx)
		if err != nil {
			logx.Warnf("%s 扫描失败（第 %d 次）：%v", stage, attempt+1, err)
			return len(r.arena) >= limit
		}
		added := r.absorb(slots, limit)
		logx.Debugf("%s 第 %d 次扫描：%d 个槽位，新增 %d，累计 %d", stage, attempt+1, len(slots), added, len(r.arena))
		if len(r.arena) >= limit {
			return true
		}

		next := r.nextMissing()
		needMore := threshold > 0 && next <= threshold
		if !needMore {
			return false
		}
		if !revealed[next] {
			revealed[next] = true
			found, err := r.scanner.Reveal(ctx, next)
			if err != nil {
				logx.Debugf("%s 定位缺失位置 %d 失败：%v", stage, next, err)
			} else if found {
				continue
			}
		}
		if attempt < r.opts.MaxAttempts-1 {
			if err := r.scanner.Jiggle(ctx, attempt); err != nil {
				logx.Debugf("%s 轻推失败：%v", stage, err)
			}
		}
	}
	return len(r.arena) >= limit
}

// absorb 按 (位置, top, DOM 顺序) 处理一次扫描的槽位，返回新增位置数。
func (r *Reconciler) absorb(slots []model.Slot, limit int) int {
	sorted := make([]model.Slot, len(slots))
	copy(sorted, slots)
	for i := range sorted {
		if sorted[i].Index < 0 {
			sorted[i].Index = sorted[i].Order
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		if a.Top != b.Top {
			return a.Top < b.Top
		}
		return a.Order < b.Order
	})

	added := 0
	for _, s := range sorted {
		if s.Index < 0 {
			continue
		}
		if prev, ok := r.arena[s.Index]; ok {
			// 仅当旧条目缺 id 且新条目带未见过的 id 时替换
			if prev.ItemID == "" && s.ItemID != "" {
				if _, dup := r.seen[s.ItemID]; !dup {
					r.arena[s.Index] = toRef(s)
					r.seen[s.ItemID] = s.Index
				}
			}
			continue
		}
		if len(r.arena) >= limit {
			continue
		}
		if s.ItemID != "" {
			if at, dup := r.seen[s.ItemID]; dup {
				logx.Debugf("条目 %s 已在位置 %d 捕获，忽略位置 %d", s.ItemID, at, s.Index)
				continue
			}
			r.seen[s.ItemID] = s.Index
		}
		r.arena[s.Index] = toRef(s)
		added++
	}
	return added
}

func (r *Reconciler) nextMissing() int {
	i := 0
	for {
		if _, ok := r.arena[i]; !ok {
			return i
		}
		i++
	}
}

// Refs 返回按 (orderIndex, visualTop) 排序、截断到 limit 的快照。
func (r *Reconciler) Refs(limit int) []model.FeedItemRef {
	out := make([]model.FeedItemRef, 0, len(r.arena))
	for _, ref := range r.arena {
		out = append(out, ref)
	}
	SortRefs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortRefs 按 orderIndex 升序、visualTop 升序排序（稳定）。
func SortRefs(refs []model.FeedItemRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].OrderIndex != refs[j].OrderIndex {
			return refs[i].OrderIndex < refs[j].OrderIndex
		}
		return refs[i].VisualTop < refs[j].VisualTop
	})
}

func toRef(s model.Slot) model.FeedItemRef {
	return model.FeedItemRef{
		OrderIndex: s.Index,
		ItemID:     s.ItemID,
		RawHref:    s.Href,
		RawTime:    s.RawTime,
		AuthorName: s.Author,
		IsVideo:    s.IsVideo,
		VisualTop:  s.Top,
	}
}
