package main

import (
	"context"
	"path/filepath"
	"testing"

	"fetch-process/internal/config"
	"fetch-process/internal/sink"
)

func TestNeedsBrowser(t *testing.T) {
	if needsBrowser([]config.Task{{Type: config.TaskRSS}, {Type: config.TaskWechatArticle}}) {
		t.Fatal("feed tasks do not need a browser")
	}
	if !needsBrowser([]config.Task{{Type: config.TaskRSS}, {Type: config.TaskXHSUserNotes}}) {
		t.Fatal("xhs task needs a browser")
	}
}

func TestOpenSinksOnlyUsed(t *testing.T) {
	cfg := &config.Config{
		Sinks: map[string]config.Sink{
			"mem":    {Type: config.SinkMemory, FieldMapping: map[string]string{sink.FieldNoteID: "id", sink.FieldContent: "正文"}},
			"local":  {Type: config.SinkSQLite, DSN: filepath.Join(t.TempDir(), "d.db")},
			"unused": {Type: config.SinkPostgres, DSN: "postgres://127.0.0.1:1/none"},
		},
	}
	tasks := []config.Task{{Type: config.TaskRSS, Sink: "mem"}, {Type: config.TaskRSS, Sink: "local"}, {Type: config.TaskRSS, Sink: "mem"}}

	o, err := openSinks(context.Background(), cfg, tasks, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer o.Close()
	if len(o.bindings) != 2 || o.runs == nil || len(o.buffers) != 1 {
		t.Fatalf("unexpected sinks: bindings=%d runs=%v buffers=%d", len(o.bindings), o.runs != nil, len(o.buffers))
	}
	if got := o.bindings["mem"].Mapping.KeyColumn(); got != "id" {
		t.Fatalf("mapping key=%q want id", got)
	}

	if err := o.bindings["mem"].Sink.Write(context.Background(), sink.Record{"id": "x1", "正文": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if recs := o.memoryRecords(); len(recs) != 1 || recs[0].Text("正文") != "hi" {
		t.Fatalf("memory records: %v", recs)
	}
}

func TestOpenSinksUnknown(t *testing.T) {
	cfg := &config.Config{Sinks: map[string]config.Sink{}}
	if _, err := openSinks(context.Background(), cfg, []config.Task{{Sink: "nope"}}, nil); err == nil {
		t.Fatal("expect error for unconfigured sink")
	}
}
