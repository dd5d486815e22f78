// 包 dedup 在写入前批量询问存储端哪些 id 已存在。
package dedup

import (
	"context"
	"strings"

	"fetch-process/internal/logx"
	"fetch-process/internal/sink"
)

// Checker 为批量存在性查询能力（sink.Sink 的子集）。
type Checker interface {
	BatchExists(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Gate 对候选 id 做一次批量存在性检查。
type Gate struct {
	checker Checker
}

func New(c Checker) *Gate { return &Gate{checker: c} }

// CheckExisting 返回 ids 中已存在的部分（小写归一化）。
// 按归一化后的 id 去重，查询时保留首次出现的原始写法。
// 存储端失败时记录警告并返回空集合，即全部视为新条目。
func (g *Gate) CheckExisting(ctx context.Context, ids []string) map[string]struct{} {
	out := make(map[string]struct{})
	if g == nil || g.checker == nil {
		return out
	}
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		n := sink.NormalizeID(id)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, strings.TrimSpace(id))
	}
	if len(uniq) == 0 {
		return out
	}
	found, err := g.checker.BatchExists(ctx, uniq)
	if err != nil {
		logx.Warnf("去重查询失败，本批 %d 条全部按新条目处理：%v", len(uniq), err)
		return out
	}
	for id := range found {
		n := sink.NormalizeID(id)
		if seen[n] {
			out[n] = struct{}{}
		}
	}
	return out
}

// Contains 判断 id 是否在集合中（按归一化比较）。
func Contains(set map[string]struct{}, id string) bool {
	_, ok := set[sink.NormalizeID(id)]
	return ok
}
