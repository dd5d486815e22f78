// 包 rules 加载平台选择器预设（rules.yaml）。
// 预设名为任务类型（weibo_home/xhs_user_notes/...），内置默认值随程序嵌入，
// 用户文件按预设逐项覆盖，页面改版时只需改 YAML。
//
// 表达式语法与页面内脚本一致：
//   - 文本：".name"，"." 取当前节点文本
//   - 属性："a@href"，"@data-id" 取当前节点属性
//   - 回退："a||b||c" 依次尝试，取第一个非空值
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Rules 为全部预设，键为预设名。
type Rules struct {
	Presets map[string]Preset `yaml:",inline"`
}

// Preset 为单个平台的规则。
type Preset struct {
	// Platform 为写入记录的平台显示名
	Platform string `yaml:"platform"`
	// BaseURL 用于相对链接绝对化
	BaseURL string  `yaml:"base_url"`
	List    *List   `yaml:"list"`
	Detail  *Detail `yaml:"detail"`
	Login   *Login  `yaml:"login"`
}

// List 描述列表页的槽位探测。
type List struct {
	// Ready 为列表出现的等待条件
	Ready   string `yaml:"ready" json:"ready"`
	Wrapper string `yaml:"wrapper" json:"wrapper"`
	Item    string `yaml:"item" json:"item"`
	// IndexAttrs 为逻辑位置属性，空表示列表不是虚拟列表，按 DOM 顺序
	IndexAttrs []string `yaml:"index_attrs" json:"indexAttrs"`
	// Positional 为 true 时按 (top, left) 重排后再编号
	Positional bool   `yaml:"positional" json:"positional"`
	HeaderID   string `yaml:"header_id" json:"headerId"`
	Link       string `yaml:"link" json:"link"`
	Time       string `yaml:"time" json:"time"`
	Author     string `yaml:"author" json:"author"`
	Mid        string `yaml:"mid" json:"mid"`
	// Video 命中即视为视频条目
	Video string `yaml:"video" json:"video"`
}

// Detail 描述详情页的字段抽取。
type Detail struct {
	Ready  string `yaml:"ready"`
	Body   string `yaml:"body"`
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Time   string `yaml:"time"`
	Tags   string `yaml:"tags"`
	// Media 为图片/视频容器选择器（逗号分隔的 CSS 列表），从中收集 img/video 地址
	Media string `yaml:"media"`
	// MediaFallback 在 Media 无结果时使用，会过滤头像类小图
	MediaFallback string `yaml:"media_fallback"`
	// VideoOnly 命中时 media 置为视频占位
	VideoOnly string `yaml:"video_only"`
	Video     string `yaml:"video"`
	// Retweet 为转发内容的判定选择器
	Retweet     string `yaml:"retweet"`
	Likes       string `yaml:"likes"`
	Collections string `yaml:"collections"`
	Comments    string `yaml:"comments"`
	Shares      string `yaml:"shares"`
	// Scrolls 为解析前的下滚次数，用于触发懒加载
	Scrolls int `yaml:"scrolls"`
}

// Login 描述登录墙判定。
type Login struct {
	URLMarkers []string `yaml:"url_markers" json:"urlMarkers"`
	Selector   string   `yaml:"selector" json:"selector"`
	Texts      []string `yaml:"texts" json:"texts"`
}

// Default 返回内置预设。
func Default() *Rules {
	r, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// Load 读取用户文件并覆盖内置预设；path 为空或文件不存在时只用内置预设。
func Load(path string) (*Rules, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	user, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("unmarshal rules %s: %w", path, err)
	}
	base.merge(user)
	return base, nil
}

func parse(b []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(b, &r.Presets); err != nil {
		return nil, err
	}
	if r.Presets == nil {
		r.Presets = map[string]Preset{}
	}
	return &r, nil
}

// merge 以块为单位覆盖：用户给出的 list/detail/login 整块替换内置值。
func (r *Rules) merge(o *Rules) {
	for name, up := range o.Presets {
		cur, ok := r.Presets[name]
		if !ok {
			r.Presets[name] = up
			continue
		}
		if up.Platform != "" {
			cur.Platform = up.Platform
		}
		if up.BaseURL != "" {
			cur.BaseURL = up.BaseURL
		}
		if up.List != nil {
			cur.List = up.List
		}
		if up.Detail != nil {
			cur.Detail = up.Detail
		}
		if up.Login != nil {
			cur.Login = up.Login
		}
		r.Presets[name] = cur
	}
}

// GetPreset 按名称获取预设（不区分大小写）。不做回退：平台之间的选择器不通用。
func (r *Rules) GetPreset(name string) (Preset, bool) {
	if r == nil || len(r.Presets) == 0 {
		return Preset{}, false
	}
	if p, ok := r.Presets[name]; ok {
		return p, true
	}
	for k, v := range r.Presets {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return Preset{}, false
}
