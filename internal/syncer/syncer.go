// 包 syncer 负责主流程编排：
// - 逐个任务、逐个来源目标执行 收集 → 去重 → 解析 → 校验 → 写入
// - 连续过期达到阈值时提前结束当前目标
// - 汇总每个目标与整次运行的计数
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"fetch-process/internal/config"
	"fetch-process/internal/dedup"
	"fetch-process/internal/logx"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/platform"
	"fetch-process/internal/recency"
	"fetch-process/internal/resolve"
	"fetch-process/internal/sink"
)

// maxRepairs 为单条写入遇到字段类型不匹配时的最多修复次数。
const maxRepairs = 2

// Binding 为一个已构造的写入端及其字段映射。
type Binding struct {
	Sink    sink.Sink
	Mapping sink.Mapping
}

// RunLog 记录每次任务运行（store.SQLite 实现）。
type RunLog interface {
	BeginRun(ctx context.Context, id, task string) error
	FinishRun(ctx context.Context, id string, written int) error
}

// SourceFactory 为任务构造平台来源。
type SourceFactory func(task config.Task) (platform.Source, error)

// Options 为 Runner 的可选能力。
type Options struct {
	// DryRun 时执行收集/去重/解析/校验，但不写入
	DryRun  bool
	Sources SourceFactory
	Runs    RunLog
	// Sleep 用于写入间隔，测试中可替换
	Sleep func(context.Context, time.Duration) error
	Now   func() time.Time
}

// Runner 同步执行器，持有配置、写入端与来源构造方式。
type Runner struct {
	cfg   *config.Config
	sinks map[string]Binding
	opts  Options
	// 本次运行是否已有写入，用于决定写入前是否等待
	wrote bool
}

// New 创建 Runner。sinks 的键为配置中的写入端名称。
func New(cfg *config.Config, sinks map[string]Binding, opts Options) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{cfg: cfg, sinks: sinks, opts: opts}
}

// Run 依次执行 tasks（为空时执行配置中的全部任务），返回整次运行的汇总。
func (r *Runner) Run(ctx context.Context, tasks []config.Task) model.Report {
	if len(tasks) == 0 {
		tasks = r.cfg.Tasks
	}
	rep := model.Report{RunID: uuid.NewString(), StartedAt: r.opts.Now()}
	logx.Infof("开始运行 %s：%d 个任务", rep.RunID, len(tasks))
	for i, task := range tasks {
		if ctx.Err() != nil {
			logx.Warnf("运行被取消，跳过剩余 %d 个任务", len(tasks)-i)
			break
		}
		rep.Targets = append(rep.Targets, r.runTask(ctx, task)...)
	}
	rep.FinishedAt = r.opts.Now()
	tot := rep.Totals()
	logx.Infof("运行 %s 结束：候选 %d，已存在 %d，新写入 %d", rep.RunID, tot.Candidates, tot.Existing, tot.Written)
	return rep
}

// RunTask 执行单个任务，返回 目标 → 新写入条数。
func (r *Runner) RunTask(ctx context.Context, task config.Task) map[string]int {
	out := make(map[string]int)
	for _, s := range r.runTask(ctx, task) {
		out[s.Target] = s.Written
	}
	return out
}

func (r *Runner) runTask(ctx context.Context, task config.Task) []model.TargetSummary {
	runID := uuid.NewString()
	log := logx.With("run", runID, "task", task.Type)
	sums := make([]model.TargetSummary, 0, len(task.Params.UserURLs))
	failAll := func(err error) []model.TargetSummary {
		log.Error("任务初始化失败", "err", err)
		for _, t := range task.Params.UserURLs {
			sums = append(sums, model.TargetSummary{Target: t, Task: task.Type, State: model.StateFailed, Error: err.Error()})
		}
		return sums
	}

	b, ok := r.sinks[task.Sink]
	if !ok || b.Sink == nil {
		return failAll(errors.New("sink " + task.Sink + " is not available"))
	}
	if r.opts.Sources == nil {
		return failAll(errors.New("no source factory"))
	}
	src, err := r.opts.Sources(task)
	if err != nil {
		return failAll(err)
	}

	if r.opts.Runs != nil {
		if err := r.opts.Runs.BeginRun(ctx, runID, task.Type); err != nil {
			log.Warn("记录运行开始失败", "err", err)
		}
	}
	written := 0
	for i, target := range task.Params.UserURLs {
		if ctx.Err() != nil {
			log.Warn("运行被取消，跳过剩余目标", "remaining", len(task.Params.UserURLs)-i)
			break
		}
		tlog := log.With("target", target, "platform", src.Kind())
		s := r.processTarget(ctx, tlog, task, src, b, target)
		written += s.Written
		sums = append(sums, s)
	}
	if r.opts.Runs != nil {
		if err := r.opts.Runs.FinishRun(context.WithoutCancel(ctx), runID, written); err != nil {
			log.Warn("记录运行结束失败", "err", err)
		}
	}
	return sums
}

// processTarget 驱动单个目标：COLLECTING → DEDUPING → PROCESSING → DONE | STOPPED_EARLY。
// 任何失败都只影响本目标。
func (r *Runner) processTarget(ctx context.Context, log *slog.Logger, task config.Task, src platform.Source, b Binding, target string) (sum model.TargetSummary) {
	p := task.Params
	sum = model.TargetSummary{Target: target, Task: task.Type}
	state := func(s model.TargetState) {
		sum.State = s
		log.Info("状态切换", "state", s)
	}

	state(model.StateCollecting)
	refs, err := src.Collect(ctx, target, p.CandidateCap(), p.Scrolls)
	if err != nil {
		state(model.StateFailed)
		sum.Error = err.Error()
		log.Error("收集失败", "err", err)
		return sum
	}
	sum.Candidates = len(refs)

	state(model.StateDeduping)
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ItemID != "" {
			ids = append(ids, ref.ItemID)
		}
	}
	existing := dedup.New(b.Sink).CheckExisting(ctx, ids)
	survivors := make([]model.FeedItemRef, 0, len(refs))
	queued := make(map[string]bool, len(refs))
	for _, ref := range refs {
		key := sink.NormalizeID(ref.ItemID)
		switch {
		case key == "":
			log.Debug("丢弃无 id 的引用", "index", ref.OrderIndex, "href", ref.RawHref)
		case dedup.Contains(existing, key):
			sum.Existing++
		case queued[key]:
			log.Debug("同批重复引用", "id", ref.ItemID)
		case p.Excludes() && ref.IsVideo:
			sum.Skipped++
			log.Debug("跳过视频", "id", ref.ItemID)
		default:
			queued[key] = true
			survivors = append(survivors, ref)
		}
	}
	log.Info("去重完成", "candidates", len(refs), "existing", sum.Existing, "pending", len(survivors))

	state(model.StateProcessing)
	if len(survivors) == 0 {
		state(model.StateDone)
		return sum
	}
	pool := resolve.New(src.Opener(), r.cfg.Concurrency.Detail)
	run := pool.Start(ctx, survivors, p.PerAccountLimit, withRetry(src.Resolve, r.cfg.Concurrency.Retry))

	pos := make(map[string]int, len(survivors))
	for i, ref := range survivors {
		pos[sink.NormalizeID(ref.ItemID)] = i
	}
	var (
		pending = make(map[int]resolve.Result)
		next    int
		streak  int
		final   = model.StateDone
	)
	// handle 处理一条结果，返回 false 表示本目标应停止
	handle := func(res resolve.Result) bool {
		if res.Err != nil {
			if errors.Is(res.Err, resolve.ErrStopped) {
				return true
			}
			sum.Failed++
			log.Warn("解析失败", "id", res.Ref.ItemID, "err", res.Err)
			if errors.Is(res.Err, platform.ErrLoggedOut) {
				sum.Error = res.Err.Error()
				final = model.StateFailed
				return false
			}
			return true
		}
		sum.Resolved++
		d := res.Detail
		if d.ItemID == "" {
			d.ItemID = res.Ref.ItemID
		}
		key := sink.NormalizeID(d.ItemID)
		switch {
		case dedup.Contains(existing, key):
			sum.Existing++
			return true
		case p.Excludes() && d.IsVideo:
			sum.Skipped++
			log.Debug("跳过视频", "id", d.ItemID)
			return true
		case !Valid(d):
			sum.Invalid++
			log.Debug("内容无效", "id", d.ItemID, "body", d.Body != "", "media", len(d.Media))
			return true
		}
		if p.ChecksRecency() && !recency.IsWithinAt(firstNonEmpty(d.Timestamp, res.Ref.RawTime), p.RecencyDays, r.opts.Now()) {
			sum.Stale++
			streak++
			log.Info("超出时效", "id", d.ItemID, "time", d.Timestamp, "streak", streak)
			if r.cfg.StaleStop > 0 && streak >= r.cfg.StaleStop {
				final = model.StateStoppedEarly
				return false
			}
			return true
		}

		if err := r.write(ctx, b, d); err != nil {
			sum.Failed++
			log.Error("写入失败", "id", d.ItemID, "err", err)
			return ctx.Err() == nil
		}
		streak = 0
		sum.Written++
		existing[key] = struct{}{}
		run.Accept()
		log.Info("写入成功", "id", d.ItemID, "title", d.Title, "written", sum.Written)
		return sum.Written < p.PerAccountLimit
	}

	// 结果按完成顺序到达，按 survivors 顺序依次处理
	stopped := false
	for res := range run.Results() {
		pending[pos[sink.NormalizeID(res.Ref.ItemID)]] = res
		for !stopped {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			stopped = !handle(cur)
		}
		if stopped {
			break
		}
	}
	if !stopped {
		// 未派发的位置留下空洞，按顺序处理剩余结果
		for i := next; i < len(survivors) && !stopped; i++ {
			if cur, ok := pending[i]; ok {
				stopped = !handle(cur)
			}
		}
	}
	run.Stop()

	if ctx.Err() != nil && final == model.StateDone {
		final = model.StateFailed
		sum.Error = ctx.Err().Error()
	}
	state(final)
	log.Info("目标完成", "resolved", sum.Resolved, "failed", sum.Failed, "invalid", sum.Invalid, "stale", sum.Stale, "written", sum.Written)
	return sum
}

// write 以随机间隔写入一条详情；DryRun 时只记录日志。
func (r *Runner) write(ctx context.Context, b Binding, d model.ItemDetail) error {
	if r.wrote {
		if err := r.opts.Sleep(ctx, r.delay()); err != nil {
			return err
		}
	}
	r.wrote = true
	if r.opts.DryRun {
		logx.Infof("[dry-run] 跳过写入 %s", d.ItemID)
		return nil
	}
	return sink.WriteWithRepair(ctx, b.Sink, b.Mapping.Record(d), maxRepairs)
}

func (r *Runner) delay() time.Duration {
	lo, hi := r.cfg.WriteDelay.Min, r.cfg.WriteDelay.Max
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Valid 要求正文非空，且有媒体或为视频。
func Valid(d model.ItemDetail) bool {
	return strings.TrimSpace(d.Body) != "" && (d.HasMedia() || d.IsVideo)
}

// withRetry 对可重试的解析失败在同一页面上重试 n 次。
func withRetry(fn resolve.Func, n int) resolve.Func {
	if n <= 0 {
		return fn
	}
	return func(ctx context.Context, pg page.Page, ref model.FeedItemRef) (model.ItemDetail, error) {
		var err error
		for attempt := 0; attempt <= n; attempt++ {
			var d model.ItemDetail
			d, err = fn(ctx, pg, ref)
			if err == nil || !retryable(err) || ctx.Err() != nil {
				return d, err
			}
			logx.Debugf("解析 %s 第 %d 次失败，重试：%v", ref.ItemID, attempt+1, err)
		}
		return model.ItemDetail{}, err
	}
}

func retryable(err error) bool {
	return !errors.Is(err, platform.ErrLoggedOut) && !errors.Is(err, platform.ErrNoURL)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
