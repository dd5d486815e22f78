package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fetch-process/internal/model"
)

func TestRender(t *testing.T) {
	start := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	rep := model.Report{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Targets: []model.TargetSummary{
			{Task: "weibo_home", Target: "https://weibo.com/u/1", State: model.StateDone, Candidates: 40, Existing: 12, Written: 7},
			{Task: "weibo_home", Target: "https://weibo.com/u/2", State: model.StateStoppedEarly, Candidates: 10, Stale: 3, Written: 1},
			{Task: "rss", Target: "https://ex/feed", State: model.StateFailed, Error: "boom"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rep))
	out := buf.String()

	require.Contains(t, out, "run-1")
	require.Contains(t, out, "1m30s")
	for _, want := range []string{"https://weibo.com/u/1", "STOPPED_EARLY", "FAILED", "合计", "新写入"} {
		require.Contains(t, out, want)
	}
	var totalLine string
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, "合计") {
			totalLine = l
		}
	}
	require.Contains(t, totalLine, "50")
	require.Contains(t, totalLine, "8")
	require.NotContains(t, out, "\x1b[", "no colour when not writing to a terminal")
}
