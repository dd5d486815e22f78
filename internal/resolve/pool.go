// 包 resolve 在并发上限内把列表引用解析为详情。
// 每个解析独占一个新开的执行上下文（标签页），无论成功、失败、panic 还是取消都会关闭。
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"fetch-process/internal/logx"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
)

// ErrStopped 表示解析因提前停止而被取消。
var ErrStopped = errors.New("resolve stopped")

// Func 在给定页面上解析一条引用。
type Func func(ctx context.Context, p page.Page, ref model.FeedItemRef) (model.ItemDetail, error)

// Result 为一条引用的解析结果；Err 非空时 Detail 无意义。
type Result struct {
	Ref    model.FeedItemRef
	Detail model.ItemDetail
	Err    error
}

// Pool 持有执行上下文的创建方式与并发上限。
type Pool struct {
	opener page.Opener
	limit  int
}

// New 创建 Pool，limit < 1 时按 1 处理。
func New(opener page.Opener, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{opener: opener, limit: limit}
}

// Limit 返回并发上限。
func (p *Pool) Limit() int { return p.limit }

// Run 为一次解析批次。
type Run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	results  chan Result
	target   int64
	accepted atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

// Start 依次派发 refs：每当有空闲槽位且已接受数低于 target 时派发下一条。
// target <= 0 表示不限。结果按完成顺序从 Results 读出，全部结束后通道关闭。
func (p *Pool) Start(ctx context.Context, refs []model.FeedItemRef, target int, fn Func) *Run {
	rctx, cancel := context.WithCancel(ctx)
	r := &Run{
		ctx:     rctx,
		cancel:  cancel,
		results: make(chan Result, len(refs)),
		target:  int64(target),
		done:    make(chan struct{}),
	}
	go r.dispatch(p, refs, fn)
	return r
}

func (r *Run) dispatch(p *Pool, refs []model.FeedItemRef, fn Func) {
	defer close(r.done)
	sem := semaphore.NewWeighted(int64(p.limit))
	var wg sync.WaitGroup
	for _, ref := range refs {
		if r.satisfied() {
			break
		}
		if err := sem.Acquire(r.ctx, 1); err != nil {
			break
		}
		// 等待槽位期间可能已达到目标或被停止
		if r.satisfied() || r.ctx.Err() != nil {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func(ref model.FeedItemRef) {
			defer wg.Done()
			defer sem.Release(1)
			r.results <- resolveOne(r.ctx, p.opener, ref, fn)
		}(ref)
	}
	wg.Wait()
	close(r.results)
}

func (r *Run) satisfied() bool {
	return r.target > 0 && r.accepted.Load() >= r.target
}

// resolveOne 打开上下文、调用解析函数并保证关闭；panic 转为该条的失败。
func resolveOne(ctx context.Context, opener page.Opener, ref model.FeedItemRef, fn Func) (res Result) {
	res.Ref = ref
	defer func() {
		if rec := recover(); rec != nil {
			res.Detail = model.ItemDetail{}
			res.Err = fmt.Errorf("resolve %s: panic: %v", ref.ItemID, rec)
		}
		if res.Err != nil && ctx.Err() != nil {
			res.Err = fmt.Errorf("%w: %v", ErrStopped, res.Err)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	pg, err := opener.Open(ctx)
	if err != nil {
		res.Err = fmt.Errorf("open page: %w", err)
		return res
	}
	defer func() {
		if cerr := pg.Close(); cerr != nil {
			logx.Debugf("关闭页面失败：%v", cerr)
		}
	}()
	d, err := fn(ctx, pg, ref)
	if err != nil {
		res.Err = err
		return res
	}
	res.Detail = d
	return res
}

// Results 返回结果通道。
func (r *Run) Results() <-chan Result { return r.results }

// Accept 记录一次成功写入，用于派发判断。
func (r *Run) Accept() { r.accepted.Add(1) }

// Accepted 返回已接受数。
func (r *Run) Accepted() int { return int(r.accepted.Load()) }

// Stop 停止派发、取消进行中的解析，并等待所有上下文关闭后返回。可重复调用。
func (r *Run) Stop() {
	r.stopOnce.Do(r.cancel)
	for range r.results {
	}
	<-r.done
}

// Wait 等待批次自然结束（不取消），并释放内部资源。
func (r *Run) Wait() {
	<-r.done
	r.stopOnce.Do(r.cancel)
}
