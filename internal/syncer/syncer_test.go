package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fetch-process/internal/config"
	"fetch-process/internal/model"
	"fetch-process/internal/page"
	"fetch-process/internal/page/pagetest"
	"fetch-process/internal/platform"
	"fetch-process/internal/sink"
	"fetch-process/internal/sink/memory"
	"fetch-process/internal/store"
)

var now = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

const (
	fresh = "2025-01-05 10:00"
	stale = "2024-10-01 10:00"
)

type fakeSource struct {
	refs       []model.FeedItemRef
	details    map[string]model.ItemDetail
	block      map[string]bool
	collectErr error
	opener     *pagetest.Opener
	// after[id] 为 id 开始解析前必须已开始解析的另一条
	after   map[string]string
	started map[string]chan struct{}

	mu        sync.Mutex
	calls     map[string]int
	cancelled int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		details: make(map[string]model.ItemDetail),
		block:   make(map[string]bool),
		after:   make(map[string]string),
		started: make(map[string]chan struct{}),
		opener:  &pagetest.Opener{},
		calls:   make(map[string]int),
	}
}

// add 追加一条引用及其详情。
func (f *fakeSource) add(id, ts string) *fakeSource {
	f.refs = append(f.refs, model.FeedItemRef{OrderIndex: len(f.refs), ItemID: id, RawHref: "/p/" + id})
	f.details[id] = model.ItemDetail{
		ItemID:    id,
		URL:       "https://ex/p/" + id,
		Body:      "正文 " + id,
		Media:     []string{"https://img.ex/" + id + ".jpg"},
		Timestamp: ts,
		Platform:  "测试",
	}
	return f
}

func (f *fakeSource) Kind() string        { return "fake" }
func (f *fakeSource) Opener() page.Opener { return f.opener }

func (f *fakeSource) Collect(context.Context, string, int, int) ([]model.FeedItemRef, error) {
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	return f.refs, nil
}

func (f *fakeSource) Resolve(ctx context.Context, _ page.Page, ref model.FeedItemRef) (model.ItemDetail, error) {
	f.mu.Lock()
	f.calls[ref.ItemID]++
	if ch, ok := f.started[ref.ItemID]; ok && f.calls[ref.ItemID] == 1 {
		close(ch)
	}
	f.mu.Unlock()
	if dep, ok := f.after[ref.ItemID]; ok {
		select {
		case <-f.started[dep]:
		case <-ctx.Done():
			return model.ItemDetail{}, ctx.Err()
		}
	}
	if f.block[ref.ItemID] {
		<-ctx.Done()
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
		return model.ItemDetail{}, ctx.Err()
	}
	d, ok := f.details[ref.ItemID]
	if !ok {
		return model.ItemDetail{}, errors.New("boom")
	}
	return d, nil
}

func (f *fakeSource) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeSource) called(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testConfig() *config.Config {
	return &config.Config{
		Concurrency: config.Concurrency{Detail: 1},
		StaleStop:   3,
		RecencyDays: 14,
	}
}

func testTask(limit int, targets ...string) config.Task {
	yes, no := true, false
	if len(targets) == 0 {
		targets = []string{"https://ex/u/1"}
	}
	return config.Task{
		Type: "fake",
		Sink: "mem",
		Params: config.TaskParams{
			UserURLs:        targets,
			PerAccountLimit: limit,
			Scrolls:         1,
			CandidateFactor: 4,
			MinCandidates:   40,
			RecencyDays:     14,
			ExcludeVideos:   &yes,
			CheckRecency:    &no,
		},
	}
}

func withRecency(t config.Task) config.Task {
	yes := true
	t.Params.CheckRecency = &yes
	return t
}

type harness struct {
	runner *Runner
	buf    *memory.Buffer
	sleeps int
}

func newHarness(cfg *config.Config, src platform.Source, opts Options) *harness {
	h := &harness{buf: memory.New("")}
	opts.Sources = func(config.Task) (platform.Source, error) { return src, nil }
	opts.Now = func() time.Time { return now }
	opts.Sleep = func(context.Context, time.Duration) error {
		h.sleeps++
		return nil
	}
	h.runner = New(cfg, map[string]Binding{"mem": {Sink: h.buf, Mapping: sink.DefaultMapping()}}, opts)
	return h
}

func (h *harness) writtenIDs() []string {
	var ids []string
	for _, rec := range h.buf.Snapshot() {
		ids = append(ids, rec.Text(sink.FieldNoteID))
	}
	return ids
}

func TestEarlyStopAfterThreeConsecutiveStale(t *testing.T) {
	src := newFakeSource().add("a", fresh).add("b", stale).add("c", stale).add("d", stale).add("e", fresh).add("f", fresh)
	src.block["e"] = true
	h := newHarness(testConfig(), src, Options{})

	rep := h.runner.Run(context.Background(), []config.Task{withRecency(testTask(10))})
	require.Len(t, rep.Targets, 1)
	s := rep.Targets[0]

	require.Equal(t, model.StateStoppedEarly, s.State)
	require.Equal(t, 1, s.Written)
	require.Equal(t, 3, s.Stale)
	require.Equal(t, []string{"a"}, h.writtenIDs())
	require.Zero(t, src.called("f"), "nothing is dispatched after the stop")
	require.Zero(t, src.opener.Active(), "every page is closed before returning")
}

func TestEarlyStopCancelsInFlightResolutions(t *testing.T) {
	src := newFakeSource().add("a", fresh).add("b", stale).add("c", stale).add("d", stale).
		add("e", fresh).add("f", fresh).add("g", fresh).add("h", fresh)
	for _, id := range []string{"e", "f", "g"} {
		src.block[id] = true
	}
	// d 的结果到达时 e 一定已在解析中
	src.started["e"] = make(chan struct{})
	src.after["d"] = "e"
	cfg := testConfig()
	cfg.Concurrency.Detail = 3
	h := newHarness(cfg, src, Options{})

	rep := h.runner.Run(context.Background(), []config.Task{withRecency(testTask(10))})
	s := rep.Targets[0]

	require.Equal(t, model.StateStoppedEarly, s.State)
	require.Equal(t, []string{"a"}, h.writtenIDs())
	require.Equal(t, 3, s.Stale)
	require.Zero(t, s.Failed, "cancelled resolutions are not failures")

	require.Equal(t, 1, src.called("e"))
	inFlight := src.called("e") + src.called("f") + src.called("g")
	require.Equal(t, inFlight, src.cancelledCount(), "every in-flight resolution is cancelled")
	require.Zero(t, src.called("h"), "nothing is dispatched after the stop")
	require.Zero(t, src.opener.Active())
	require.LessOrEqual(t, src.opener.MaxActive(), 3)
}

func TestTwoStaleThenFreshCompletes(t *testing.T) {
	src := newFakeSource().add("a", stale).add("b", stale).add("c", fresh).add("d", stale).add("e", stale).add("f", fresh)
	h := newHarness(testConfig(), src, Options{})

	got := h.runner.RunTask(context.Background(), withRecency(testTask(10)))
	require.Equal(t, map[string]int{"https://ex/u/1": 2}, got)
	require.Equal(t, []string{"c", "f"}, h.writtenIDs())
	require.Equal(t, 1, h.sleeps, "delay only between writes")
}

func TestDedupSkipsExisting(t *testing.T) {
	src := newFakeSource().add("a3", fresh).add("b7", fresh).add("c9", fresh).add("d1", fresh)
	h := newHarness(testConfig(), src, Options{})
	h.buf.Seed("A3", "b7")

	rep := h.runner.Run(context.Background(), []config.Task{testTask(10)})
	s := rep.Targets[0]

	require.Equal(t, 4, s.Candidates)
	require.Equal(t, 2, s.Existing)
	require.Zero(t, src.called("a3"))
	require.Zero(t, src.called("b7"))
	require.Equal(t, 1, src.called("c9"))
	require.Equal(t, 1, src.called("d1"))
	require.Equal(t, []string{"c9", "d1"}, h.writtenIDs())
}

func TestValidityAndVideoFilters(t *testing.T) {
	src := newFakeSource().add("ok", fresh).add("nomedia", fresh).add("vid", fresh).add("", fresh).add("listvid", fresh)
	d := src.details["nomedia"]
	d.Media = nil
	src.details["nomedia"] = d
	v := src.details["vid"]
	v.Media = []string{model.VideoSentinel}
	v.IsVideo = true
	src.details["vid"] = v
	src.refs[4].IsVideo = true
	h := newHarness(testConfig(), src, Options{})

	rep := h.runner.Run(context.Background(), []config.Task{testTask(10)})
	s := rep.Targets[0]

	require.Equal(t, model.StateDone, s.State)
	require.Equal(t, []string{"ok"}, h.writtenIDs())
	require.Equal(t, 1, s.Invalid)
	require.Equal(t, 2, s.Skipped, "one hinted in the list, one detected on the detail page")
	require.Zero(t, src.called("listvid"))
}

func TestVideoKeptWhenNotExcluded(t *testing.T) {
	src := newFakeSource().add("vid", fresh)
	v := src.details["vid"]
	v.Media = nil
	v.IsVideo = true
	src.details["vid"] = v
	h := newHarness(testConfig(), src, Options{})

	task := testTask(10)
	no := false
	task.Params.ExcludeVideos = &no
	h.runner.Run(context.Background(), []config.Task{task})
	require.Equal(t, []string{"vid"}, h.writtenIDs())
}

func TestStopsAtPerTargetLimit(t *testing.T) {
	src := newFakeSource().add("a", fresh).add("b", fresh).add("c", fresh).add("d", fresh).add("e", fresh)
	h := newHarness(testConfig(), src, Options{})

	got := h.runner.RunTask(context.Background(), testTask(2))
	require.Equal(t, 2, got["https://ex/u/1"])
	require.Equal(t, []string{"a", "b"}, h.writtenIDs())
}

func TestResolveFailureIsIsolated(t *testing.T) {
	src := newFakeSource().add("a", fresh).add("b", fresh).add("c", fresh)
	delete(src.details, "b")
	cfg := testConfig()
	cfg.Concurrency = config.Concurrency{Detail: 3, Retry: 1}
	h := newHarness(cfg, src, Options{})

	rep := h.runner.Run(context.Background(), []config.Task{testTask(10)})
	s := rep.Targets[0]

	require.Equal(t, 1, s.Failed)
	require.Equal(t, 2, src.called("b"), "one retry")
	require.Equal(t, []string{"a", "c"}, h.writtenIDs())
	require.LessOrEqual(t, src.opener.MaxActive(), 3)
}

func TestCollectFailureContinuesWithNextTarget(t *testing.T) {
	src := newFakeSource().add("a", fresh)
	src.collectErr = platform.ErrLoggedOut
	h := newHarness(testConfig(), src, Options{})

	got := h.runner.RunTask(context.Background(), testTask(10, "https://ex/u/1", "https://ex/u/2"))
	require.Equal(t, map[string]int{"https://ex/u/1": 0, "https://ex/u/2": 0}, got)
}

func TestUnknownSinkFailsTask(t *testing.T) {
	h := newHarness(testConfig(), newFakeSource(), Options{})
	task := testTask(10)
	task.Sink = "nope"

	rep := h.runner.Run(context.Background(), []config.Task{task})
	require.Len(t, rep.Targets, 1)
	require.Equal(t, model.StateFailed, rep.Targets[0].State)
	require.NotEmpty(t, rep.Targets[0].Error)
}

func TestDryRunSkipsWrites(t *testing.T) {
	src := newFakeSource().add("a", fresh).add("b", fresh)
	h := newHarness(testConfig(), src, Options{DryRun: true})

	rep := h.runner.Run(context.Background(), []config.Task{testTask(10)})
	require.Equal(t, 2, rep.Targets[0].Written)
	require.Empty(t, h.buf.Snapshot())
}

func TestRunsAreRecorded(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"), sink.FieldNoteID)
	require.NoError(t, err)
	defer db.Close()

	src := newFakeSource().add("a", fresh)
	h := newHarness(testConfig(), src, Options{Runs: db})
	h.runner.Run(context.Background(), []config.Task{testTask(10)})

	runs, err := db.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "fake", runs[0].Task)
	require.Equal(t, 1, runs[0].Written)
	require.False(t, runs[0].FinishedAt.IsZero())
}

func TestDelayWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.WriteDelay = config.WriteDelay{Min: time.Second, Max: 2 * time.Second}
	r := New(cfg, nil, Options{})
	for i := 0; i < 50; i++ {
		d := r.delay()
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 2*time.Second)
	}
	cfg.WriteDelay = config.WriteDelay{Min: 3 * time.Second, Max: 3 * time.Second}
	require.Equal(t, 3*time.Second, r.delay())
}
