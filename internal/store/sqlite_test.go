package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"fetch-process/internal/sink"
	"fetch-process/internal/store"
)

func openTemp(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), "笔记ID")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_WriteAndBatchExists(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.Write(ctx, sink.Record{"笔记ID": "A3", "内容": "hello", "点赞": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, sink.Record{"笔记ID": "b7", "内容": "world"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 大小写不同视为同一条，覆盖而非新增
	if err := s.Write(ctx, sink.Record{"笔记ID": "a3", "内容": "hello again"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Write(ctx, sink.Record{"内容": "no key"}); err == nil {
		t.Fatal("expected error for missing key")
	}

	got, err := s.BatchExists(ctx, []string{"a3", "B7", "c9", "d1", ""})
	if err != nil {
		t.Fatalf("batch exists: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("exists = %v, want a3,b7", got)
	}
	for _, id := range []string{"a3", "b7"} {
		if _, ok := got[id]; !ok {
			t.Fatalf("missing %s in %v", id, got)
		}
	}

	empty, err := s.BatchExists(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty batch: %v %v", empty, err)
	}

	recs, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.ItemID == "A3" && r.Fields.Text("内容") != "hello again" {
			t.Fatalf("upsert not applied: %v", r.Fields)
		}
	}
}

func TestSQLite_RunsAndReset(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.BeginRun(ctx, "run-1", "weibo_home"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.FinishRun(ctx, "run-1", 4); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.FinishRun(ctx, "nope", 1); err == nil {
		t.Fatal("finish unknown run should fail")
	}
	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Written != 4 || runs[0].Task != "weibo_home" || runs[0].FinishedAt.IsZero() {
		t.Fatalf("runs = %+v", runs)
	}

	if err := s.Write(ctx, sink.Record{"笔记ID": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	recs, _ := s.ListRecords(ctx)
	runs, _ = s.ListRuns(ctx)
	if len(recs) != 0 || len(runs) != 0 {
		t.Fatalf("after reset: records=%d runs=%d", len(recs), len(runs))
	}
}

func TestSQLite_CleanOldRecords(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	if err := s.Write(ctx, sink.Record{"笔记ID": "fresh"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.CleanOldRecords(ctx, 0); err != nil {
		t.Fatalf("clean 0: %v", err)
	}
	if err := s.CleanOldRecords(ctx, 30); err != nil {
		t.Fatalf("clean: %v", err)
	}
	recs, _ := s.ListRecords(ctx)
	if len(recs) != 1 {
		t.Fatalf("fresh record removed: %d", len(recs))
	}
}
