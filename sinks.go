package main

import (
	"context"
	"fmt"
	"sort"

	"fetch-process/internal/config"
	"fetch-process/internal/fetch"
	"fetch-process/internal/logx"
	"fetch-process/internal/sink"
	"fetch-process/internal/sink/feishu"
	"fetch-process/internal/sink/memory"
	"fetch-process/internal/sink/postgres"
	"fetch-process/internal/store"
	"fetch-process/internal/syncer"
)

// openedSinks 为本次运行打开的写入端。
type openedSinks struct {
	bindings map[string]syncer.Binding
	// runs 为第一个 sqlite 写入端，兼作运行记录
	runs    *store.SQLite
	sqlite  []*store.SQLite
	buffers []*memory.Buffer
	closers []func()
}

// openSinks 按任务引用的名称构造写入端；任一失败即返回错误。
func openSinks(ctx context.Context, cfg *config.Config, tasks []config.Task, cl *fetch.Client) (*openedSinks, error) {
	names := make([]string, 0, len(tasks))
	seen := make(map[string]bool)
	for _, t := range tasks {
		if !seen[t.Sink] {
			seen[t.Sink] = true
			names = append(names, t.Sink)
		}
	}
	sort.Strings(names)

	out := &openedSinks{bindings: make(map[string]syncer.Binding)}
	for _, name := range names {
		sc, ok := cfg.Sinks[name]
		if !ok {
			out.Close()
			return nil, fmt.Errorf("sink %s not configured", name)
		}
		m := sink.DefaultMapping()
		if len(sc.FieldMapping) > 0 {
			m = sink.Mapping(sc.FieldMapping)
		}
		s, err := out.open(ctx, cfg, name, sc, m, cl)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		out.bindings[name] = syncer.Binding{Sink: s, Mapping: m}
		logx.Infof("写入端 %s 就绪（%s）", name, sc.Type)
	}
	return out, nil
}

func (o *openedSinks) open(ctx context.Context, cfg *config.Config, name string, sc config.Sink, m sink.Mapping, cl *fetch.Client) (sink.Sink, error) {
	switch sc.Type {
	case config.SinkFeishu:
		return feishu.New(cl, feishu.Options{
			BaseURL:   cfg.Feishu.BaseURL,
			AppID:     cfg.Feishu.AppID,
			AppSecret: cfg.Feishu.AppSecret,
			AppToken:  sc.AppToken,
			TableID:   sc.TableID,
			Mapping:   m,
			QPS:       cfg.Feishu.QPS,
		})
	case config.SinkSQLite:
		st, err := store.OpenSQLite(sc.DSN, m.KeyColumn())
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, func() { _ = st.Close() })
		if cfg.ResetOnStart {
			if err := st.Reset(ctx); err != nil {
				logx.Warnf("启动清理数据库失败：%v", err)
			} else {
				logx.Infof("已清理 %s 的数据表", name)
			}
		}
		o.sqlite = append(o.sqlite, st)
		if o.runs == nil {
			o.runs = st
		}
		return st, nil
	case config.SinkPostgres:
		pg, err := postgres.Open(ctx, sc.DSN, sc.Table, m.KeyColumn())
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, pg.Close)
		return pg, nil
	case config.SinkMemory:
		b := memory.New(m.KeyColumn())
		o.buffers = append(o.buffers, b)
		return b, nil
	}
	return nil, fmt.Errorf("unsupported type %q", sc.Type)
}

// cleanup 清理 sqlite 写入端中过期的记录。
func (o *openedSinks) cleanup(ctx context.Context, days int) {
	for _, st := range o.sqlite {
		if err := st.CleanOldRecords(ctx, days); err != nil {
			logx.Warnf("清理过期记录失败：%v", err)
		}
	}
}

// memoryRecords 合并全部内存写入端的记录。
func (o *openedSinks) memoryRecords() []sink.Record {
	var out []sink.Record
	for _, b := range o.buffers {
		out = append(out, b.Snapshot()...)
	}
	return out
}

func (o *openedSinks) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}
