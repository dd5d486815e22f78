package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fetch-process/internal/model"
	"fetch-process/internal/sink"
	"fetch-process/internal/store"
)

func readDoc(t *testing.T, path string) (Document, string) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d, string(b)
}

func TestToJSONDataWithCap(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	recs := make([]sink.Record, 0, maxExportRecords+20)
	for i := 0; i < maxExportRecords+20; i++ {
		recs = append(recs, sink.Record{sink.FieldNoteID: fmt.Sprintf("id-%d", i), sink.FieldPostURL: sink.Link{Link: "https://ex/?a=1&b=2", Text: "t"}})
	}
	rep := model.Report{RunID: "r1", Targets: []model.TargetSummary{{Target: "u", State: model.StateDone, Written: 3}}}
	if err := ToJSONData(rep, recs, out); err != nil {
		t.Fatalf("export: %v", err)
	}
	d, raw := readDoc(t, out)
	if d.Total != maxExportRecords || len(d.Records) != maxExportRecords {
		t.Fatalf("total=%d len=%d want %d", d.Total, len(d.Records), maxExportRecords)
	}
	if d.Records[0][sink.FieldNoteID] != "id-0" {
		t.Fatalf("order changed: %v", d.Records[0])
	}
	if d.Report.RunID != "r1" || len(d.Report.Targets) != 1 {
		t.Fatalf("report lost: %+v", d.Report)
	}
	if !strings.Contains(raw, "\n  \"report\"") || !strings.Contains(raw, "a=1&b=2") {
		t.Fatalf("expect indented output without html escaping")
	}
}

func TestToJSONDataEmpty(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	if err := ToJSONData(model.Report{}, nil, out); err != nil {
		t.Fatalf("export: %v", err)
	}
	_, raw := readDoc(t, out)
	if !strings.Contains(raw, `"records": []`) {
		t.Fatalf("records should be an empty array: %s", raw)
	}
}

func TestToJSONFromSQLite(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenSQLite(filepath.Join(dir, "t.db"), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.Write(ctx, sink.Record{sink.FieldNoteID: id, sink.FieldContent: "正文"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	out := filepath.Join(dir, "out.json")
	if err := ToJSON(ctx, s, model.Report{RunID: "r2"}, out); err != nil {
		t.Fatalf("export: %v", err)
	}
	d, _ := readDoc(t, out)
	if d.Total != 2 || d.Report.RunID != "r2" {
		t.Fatalf("unexpected doc: %+v", d)
	}
	for _, r := range d.Records {
		if r[sink.FieldContent] != "正文" {
			t.Fatalf("fields lost: %v", r)
		}
	}
}
