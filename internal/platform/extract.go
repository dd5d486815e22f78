package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fetch-process/internal/model"
	"fetch-process/internal/recency"
	"fetch-process/internal/rules"
)

// maxTitleRunes 为由正文推导标题时的最大长度。
const maxTitleRunes = 60

// extracted 为详情页 HTML 的抽取结果。
type extracted struct {
	Body      string
	Title     string
	Author    string
	Time      string
	Tags      string
	Media     []string
	IsVideo   bool
	IsRetweet bool
	Stats     model.Stats
}

// extractDetail 按预设从渲染后的 HTML 抽取字段；Media 已归一化为绝对地址。
func extractDetail(doc *goquery.Document, base string, d *rules.Detail, now time.Time) extracted {
	root := doc.Selection
	var ex extracted
	ex.Body = getVal(root, d.Body)
	ex.Title = oneLine(getVal(root, d.Title))
	ex.Author = oneLine(getVal(root, d.Author))
	if raw := oneLine(getVal(root, d.Time)); raw != "" {
		ex.Time = raw
		if f := recency.Format(raw, now); f != "" {
			ex.Time = f
		}
	}
	if d.Tags != "" {
		var tags []string
		root.Find(d.Tags).Each(func(_ int, s *goquery.Selection) {
			if t := oneLine(s.Text()); t != "" {
				tags = append(tags, t)
			}
		})
		ex.Tags = strings.Join(tags, " ")
	}

	media := collectMedia(root, d.Media, false)
	if len(media) == 0 && d.MediaFallback != "" {
		media = collectMedia(root, d.MediaFallback, true)
	}
	ex.Media = NormalizeMedia(media, base)
	if matches(root, d.VideoOnly) {
		ex.Media = []string{model.VideoSentinel}
	}
	ex.IsVideo = matches(root, d.Video)
	for _, m := range ex.Media {
		if m == model.VideoSentinel {
			ex.IsVideo = true
		}
	}
	ex.IsRetweet = matches(root, d.Retweet)

	ex.Stats = model.Stats{
		Likes:       model.ParseCount(getVal(root, d.Likes)),
		Collections: model.ParseCount(getVal(root, d.Collections)),
		Comments:    model.ParseCount(getVal(root, d.Comments)),
		Shares:      model.ParseCount(getVal(root, d.Shares)),
	}
	return ex
}

func matches(root *goquery.Selection, sel string) bool {
	return strings.TrimSpace(sel) != "" && root.Find(sel).Length() > 0
}

// collectMedia 收集容器内的图片与视频地址。容器内有 video 且不过滤小图时只记视频占位。
func collectMedia(root *goquery.Selection, containers string, skipAvatars bool) []string {
	if strings.TrimSpace(containers) == "" {
		return nil
	}
	var out []string
	root.Find(containers).Each(func(_ int, c *goquery.Selection) {
		if !skipAvatars && c.Find("video").Length() > 0 {
			out = append(out, model.VideoSentinel)
			return
		}
		c.Find("img").Each(func(_ int, img *goquery.Selection) {
			if skipAvatars && isAvatar(img) {
				return
			}
			out = append(out, firstAttr(img, "src", "data-src", "data-original"))
			if skipAvatars {
				if set, ok := img.Attr("srcset"); ok {
					for _, part := range strings.Split(set, ",") {
						if f := strings.Fields(part); len(f) > 0 {
							out = append(out, f[0])
						}
					}
				}
			}
		})
		if skipAvatars {
			c.Find("video").Each(func(_ int, v *goquery.Selection) {
				out = append(out, firstAttr(v, "poster"), firstAttr(v, "src"))
				v.Find("source").Each(func(_ int, s *goquery.Selection) {
					out = append(out, firstAttr(s, "src"))
				})
			})
		}
	})
	return out
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// isAvatar 排除头像与图标：类名含 avatar/profile/head，或宽高不超过 40。
func isAvatar(img *goquery.Selection) bool {
	cls := strings.ToLower(img.AttrOr("class", ""))
	if strings.Contains(cls, "avatar") || strings.Contains(cls, "profile") || strings.Contains(cls, "head") {
		return true
	}
	for _, a := range []string{"width", "height"} {
		if n, err := strconv.Atoi(strings.TrimSpace(img.AttrOr(a, ""))); err == nil && n > 0 && n <= 40 {
			return true
		}
	}
	return false
}

// NormalizeMedia 规范化媒体地址：//host 补 https，相对地址按 base 补全，
// 丢弃 data: URI 与重复项，保持顺序；视频占位原样保留。
func NormalizeMedia(raw []string, base string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "data:") {
			continue
		}
		if r != model.VideoSentinel {
			r = absURL(base, r)
		}
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// DeriveTitle 取正文首个非空行（最多 60 个字符），正文为空时为 "<平台>-<id>"。
func DeriveTitle(body, platform, id string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = string([]rune(line)[:maxTitleRunes])
		}
		return line
	}
	return fmt.Sprintf("%s-%s", platform, id)
}

// getVal 解析 "sel@attr" / "." / "a||b" 表达式，文本值保留块级换行。
func getVal(scope *goquery.Selection, expr string) string {
	for _, part := range strings.Split(expr, "||") {
		if v := getValSingle(scope, strings.TrimSpace(part)); v != "" {
			return v
		}
	}
	return ""
}

func getValSingle(scope *goquery.Selection, expr string) string {
	switch {
	case expr == "":
		return ""
	case expr == ".":
		return blockText(scope)
	}
	if sel, attr, ok := strings.Cut(expr, "@"); ok {
		sel, attr = strings.TrimSpace(sel), strings.TrimSpace(attr)
		target := scope
		if sel != "" {
			target = scope.Find(sel).First()
		}
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return blockText(scope.Find(expr).First())
}

// blockText 近似 innerText：块级元素与 <br> 处换行，行内空白折叠，空行合并。
func blockText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range s.Nodes {
		walkText(&b, n)
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "section": true, "article": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "blockquote": true, "tr": true,
}

func walkText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.WriteByte('\n')
			return
		case "script", "style", "noscript":
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
