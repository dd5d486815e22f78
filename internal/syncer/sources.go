package syncer

import (
	"fmt"

	"fetch-process/internal/config"
	"fetch-process/internal/platform"
	"fetch-process/internal/rules"
)

// PlatformSources 按任务类型与预设构造来源。任务未指定预设时使用与类型同名的预设。
func PlatformSources(rl *rules.Rules, deps platform.Deps) SourceFactory {
	return func(task config.Task) (platform.Source, error) {
		name := task.Params.Preset
		if name == "" {
			name = task.Type
		}
		preset, ok := rl.GetPreset(name)
		if !ok {
			return nil, fmt.Errorf("preset %q not found", name)
		}
		d := deps
		if task.Params.FeedSuffix != "" {
			d.FeedSuffix = task.Params.FeedSuffix
		}
		src, err := platform.New(task.Type, preset, d)
		if err != nil {
			return nil, fmt.Errorf("build source for %s: %w", task.Type, err)
		}
		return src, nil
	}
}
