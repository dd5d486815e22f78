package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fetch-process/internal/model"
)

func TestParseCount(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"赞":     0,
		"12":    12,
		"1,234": 1234,
		"1.2万":  12000,
		"10万+":  100000,
		"3w":    30000,
		"4K":    4000,
		"2亿":    200000000,
		" 7 ":   7,
		"-3":    0,
	}
	for in, want := range cases {
		require.Equal(t, want, model.ParseCount(in), in)
	}
}

func TestHasMedia(t *testing.T) {
	require.False(t, model.ItemDetail{}.HasMedia())
	require.False(t, model.ItemDetail{Media: []string{"", "data:image/png;base64,xx"}}.HasMedia())
	require.True(t, model.ItemDetail{Media: []string{"data:x", "https://img/1.jpg"}}.HasMedia())
	require.True(t, model.ItemDetail{Media: []string{model.VideoSentinel}}.HasMedia())
}

func TestReportTotals(t *testing.T) {
	r := model.Report{Targets: []model.TargetSummary{
		{Candidates: 10, Existing: 2, Written: 3},
		{Candidates: 5, Existing: 1, Written: 4, Stale: 3},
	}}
	tot := r.Totals()
	require.Equal(t, "total", tot.Target)
	require.Equal(t, 15, tot.Candidates)
	require.Equal(t, 3, tot.Existing)
	require.Equal(t, 7, tot.Written)
	require.Equal(t, 3, tot.Stale)
}
