// 包 sink 定义记录存储（多维表格、SQLite、Postgres、内存）的统一能力：
// 批量存在性查询与单条写入，以及字段类型不匹配时的修复重试。
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fetch-process/internal/logx"
	"fetch-process/internal/model"
)

// Sink 为记录存储能力。
type Sink interface {
	// BatchExists 返回 ids 中已存在的部分（按小写归一化）。
	BatchExists(ctx context.Context, ids []string) (map[string]struct{}, error)
	// Write 写入一条记录；字段类型不匹配时返回 *SchemaMismatchError。
	Write(ctx context.Context, rec Record) error
}

// Record 为扁平的 列名 → 值 映射，值为 string/int/bool/Link。
type Record map[string]any

// Link 为超链接字段的对象形式。
type Link struct {
	Link string `json:"link"`
	Text string `json:"text"`
}

// Clone 返回浅拷贝。
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Text 以字符串形式读取字段。
func (r Record) Text(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case Link:
		return v.Link
	default:
		return fmt.Sprint(v)
	}
}

// Kind 为存储端期望的字段表示。
type Kind string

const (
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindURL    Kind = "url"
)

// ErrSchemaMismatch 可用 errors.Is 判断字段类型不匹配。
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError 描述某列的表示与存储端期望不符。
type SchemaMismatchError struct {
	Field string
	Want  Kind
	Code  int
	Msg   string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: field=%s want=%s code=%d msg=%s", e.Field, e.Want, e.Code, e.Msg)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// Repair 按错误中期望的表示转换对应列，返回新记录；无法转换或无变化时 ok=false。
func Repair(rec Record, e *SchemaMismatchError) (Record, bool) {
	if e == nil || e.Field == "" {
		return rec, false
	}
	v, present := rec[e.Field]
	if !present {
		return rec, false
	}
	out := rec.Clone()
	switch e.Want {
	case KindNumber:
		switch x := v.(type) {
		case int, int64, float64:
			return rec, false
		case bool:
			if x {
				out[e.Field] = 1
			} else {
				out[e.Field] = 0
			}
		default:
			out[e.Field] = model.ParseCount(rec.Text(e.Field))
		}
	case KindURL:
		if _, ok := v.(Link); ok {
			return rec, false
		}
		s := rec.Text(e.Field)
		out[e.Field] = Link{Link: s, Text: s}
	case KindText:
		if _, ok := v.(string); ok {
			return rec, false
		}
		out[e.Field] = rec.Text(e.Field)
	default:
		return rec, false
	}
	return out, true
}

// WriteWithRepair 写入记录；遇到字段类型不匹配时修复后重试，最多 maxRepairs 次。
func WriteWithRepair(ctx context.Context, s Sink, rec Record, maxRepairs int) error {
	cur := rec
	for attempt := 0; ; attempt++ {
		err := s.Write(ctx, cur)
		if err == nil {
			return nil
		}
		var mm *SchemaMismatchError
		if !errors.As(err, &mm) || attempt >= maxRepairs {
			return err
		}
		next, ok := Repair(cur, mm)
		if !ok {
			return err
		}
		logx.Warnf("字段 %s 类型不匹配，转换为 %s 后重试（第 %d 次）", mm.Field, mm.Want, attempt+1)
		cur = next
	}
}

// NormalizeID 为存在性比较使用的归一化 id。
func NormalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
