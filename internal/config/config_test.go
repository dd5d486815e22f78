package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(f, []byte(body), 0o644))
	return f
}

const minimal = `
SINKS:
  local:
    type: sqlite
TASKS:
  - type: weibo_home
    sink: local
    params:
      user_urls: ["https://weibo.com/"]
  - type: xhs_user_notes
    sink: local
    params:
      user_urls: ["https://www.xiaohongshu.com/user/profile/u1"]
      per_account_limit: 20
      exclude_videos: false
      check_recency: false
`

func TestLoadDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	require.Equal(t, 3, c.StaleStop)
	require.Equal(t, 14, c.RecencyDays)
	require.Equal(t, 3, c.Concurrency.Detail)
	require.Equal(t, WriteDelay{Min: 5 * time.Second, Max: 10 * time.Second}, c.WriteDelay)
	require.Equal(t, "./data.db", c.Sinks["local"].DSN)
	require.Equal(t, "pretty", c.LogFormat)

	weibo := c.Tasks[0].Params
	require.Equal(t, 10, weibo.PerAccountLimit)
	require.Equal(t, 40, weibo.CandidateCap())
	require.True(t, weibo.Excludes())
	require.True(t, weibo.ChecksRecency())
	require.Equal(t, 14, weibo.RecencyDays)

	xhs := c.Tasks[1].Params
	require.Equal(t, 80, xhs.CandidateCap())
	require.False(t, xhs.Excludes())
	require.False(t, xhs.ChecksRecency())
}

func TestCandidateCapNeverBelowLimit(t *testing.T) {
	p := TaskParams{PerAccountLimit: 50, CandidateFactor: 0, MinCandidates: 10}
	require.Equal(t, 50, p.CandidateCap())
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"unknown sink": `
SINKS: {a: {type: memory}}
TASKS: [{type: rss, sink: b, params: {user_urls: [x]}}]`,
		"bad task type": `
SINKS: {a: {type: memory}}
TASKS: [{type: tiktok, sink: a, params: {user_urls: [x]}}]`,
		"no urls": `
SINKS: {a: {type: memory}}
TASKS: [{type: rss, sink: a}]`,
		"feishu without table": `
SINKS: {a: {type: feishu, app_token: t}}`,
		"negative stale": `STALE_STOP: -1`,
		"bad delay": `
WRITE_DELAY: {min: 5s, max: 1s}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("FEISHU_BASE_TABLE_ID", "")
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEISHU_APP_ID", "cli_x")
	t.Setenv("FEISHU_APP_SECRET", "sec")
	t.Setenv("FEISHU_BASE_APP_TOKEN", "app")
	t.Setenv("FEISHU_BASE_TABLE_ID", "tbl")
	t.Setenv("FETCH_HEADLESS", "yes")
	c, err := Load(writeConfig(t, `
SINKS:
  fs: {}
  other: {type: feishu, app_token: own, table_id: own_tbl}
`))
	require.NoError(t, err)
	require.Equal(t, "cli_x", c.Feishu.AppID)
	require.Equal(t, "sec", c.Feishu.AppSecret)
	require.True(t, c.Browser.Headless)
	require.Equal(t, Sink{Type: SinkFeishu, AppToken: "app", TableID: "tbl"}, c.Sinks["fs"])
	require.Equal(t, "own", c.Sinks["other"].AppToken)
}

func TestSelect(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	all, err := c.Select("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := c.Select("1")
	require.NoError(t, err)
	require.Equal(t, TaskXHSUserNotes, one[0].Type)

	byType, err := c.Select("weibo_home")
	require.NoError(t, err)
	require.Len(t, byType, 1)

	_, err = c.Select("5")
	require.Error(t, err)
	_, err = c.Select("rss")
	require.Error(t, err)
}
