// 包 memory 为极简模式的内存记录存储：不落库，运行结束后可导出为 JSON。
package memory

import (
	"context"
	"errors"
	"sync"

	"fetch-process/internal/sink"
)

// Buffer 按主键收集写入的记录，保留写入顺序。
type Buffer struct {
	mu      sync.Mutex
	key     string
	records map[string]sink.Record // key: 归一化 id
	order   []string
}

// New 创建 Buffer，keyColumn 为主键列名。
func New(keyColumn string) *Buffer {
	if keyColumn == "" {
		keyColumn = sink.FieldNoteID
	}
	return &Buffer{key: keyColumn, records: make(map[string]sink.Record)}
}

// Seed 预置已存在的 id（不产生记录内容）。
func (b *Buffer) Seed(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		n := sink.NormalizeID(id)
		if n == "" {
			continue
		}
		if _, ok := b.records[n]; !ok {
			b.records[n] = nil
		}
	}
}

func (b *Buffer) BatchExists(_ context.Context, ids []string) (map[string]struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		n := sink.NormalizeID(id)
		if _, ok := b.records[n]; ok {
			out[n] = struct{}{}
		}
	}
	return out, nil
}

func (b *Buffer) Write(_ context.Context, rec sink.Record) error {
	n := sink.NormalizeID(rec.Text(b.key))
	if n == "" {
		return errors.New("record key required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev := b.records[n]; prev == nil {
		b.order = append(b.order, n)
	}
	b.records[n] = rec.Clone()
	return nil
}

// Snapshot 按写入顺序返回记录副本（不含 Seed 的 id）。
func (b *Buffer) Snapshot() []sink.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sink.Record, 0, len(b.order))
	for _, n := range b.order {
		if rec := b.records[n]; rec != nil {
			out = append(out, rec.Clone())
		}
	}
	return out
}
