// 包 export 负责导出：将运行汇总与写入的记录写为带缩进的 JSON。
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"fetch-process/internal/model"
	"fetch-process/internal/sink"
	"fetch-process/internal/store"
)

// maxExportRecords 为单次导出的记录上限，超出部分按顺序截断。
const maxExportRecords = 500

// Document 为导出文件的结构。
type Document struct {
	Report  model.Report  `json:"report"`
	Total   int           `json:"total"`
	Records []sink.Record `json:"records"`
}

// ToJSON 查询 SQLite 写入端的记录（新的在前），连同汇总写入 path。
func ToJSON(ctx context.Context, s *store.SQLite, rep model.Report, path string) error {
	stored, err := s.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	records := make([]sink.Record, 0, len(stored))
	for _, r := range stored {
		records = append(records, r.Fields)
	}
	return ToJSONData(rep, records, path)
}

// ToJSONData 直接将内存中的记录写成 JSON。
func ToJSONData(rep model.Report, records []sink.Record, path string) error {
	if len(records) > maxExportRecords {
		records = records[:maxExportRecords]
	}
	if records == nil {
		records = []sink.Record{}
	}
	out := Document{Report: rep, Total: len(records), Records: records}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json to %s: %w", path, err)
	}
	return nil
}
