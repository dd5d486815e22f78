package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPresets(t *testing.T) {
	r := Default()
	for _, name := range []string{"weibo_home", "xhs_user_notes", "rss", "wechat_articles"} {
		_, ok := r.GetPreset(name)
		require.True(t, ok, name)
	}
	wb, _ := r.GetPreset("WEIBO_HOME")
	require.Equal(t, "微博", wb.Platform)
	require.NotNil(t, wb.List)
	require.Equal(t, []string{"data-index", "data-virtual-index"}, wb.List.IndexAttrs)
	require.Equal(t, 3, wb.Detail.Scrolls)
	require.Contains(t, wb.Login.URLMarkers, "passport.weibo.com")

	xhs, _ := r.GetPreset("xhs_user_notes")
	require.True(t, xhs.List.Positional)
	require.Empty(t, xhs.List.IndexAttrs)

	_, ok := r.GetPreset("douyin")
	require.False(t, ok)
}

func TestLoadOverridesByBlock(t *testing.T) {
	f := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(f, []byte(`
weibo_home:
  detail:
    body: '.new-body'
custom:
  platform: 自定义
`), 0o644))
	r, err := Load(f)
	require.NoError(t, err)

	wb, _ := r.GetPreset("weibo_home")
	require.Equal(t, ".new-body", wb.Detail.Body)
	require.Zero(t, wb.Detail.Scrolls)
	// 未覆盖的块保持内置值
	require.Equal(t, ".wbpro-scroller-item", wb.List.Item)
	require.Equal(t, "微博", wb.Platform)

	c, ok := r.GetPreset("custom")
	require.True(t, ok)
	require.Equal(t, "自定义", c.Platform)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	_, ok := r.GetPreset("weibo_home")
	require.True(t, ok)

	r, err = Load("")
	require.NoError(t, err)
	require.Len(t, r.Presets, 4)
}

func TestLoadBadYAML(t *testing.T) {
	f := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(f, []byte("weibo_home: [unclosed"), 0o644))
	_, err := Load(f)
	require.Error(t, err)
}
