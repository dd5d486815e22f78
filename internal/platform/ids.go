package platform

import (
	"net/url"
	"regexp"
	"strings"

	"fetch-process/internal/model"
)

var (
	reAlnum     = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	reImageLink = regexp.MustCompile(`(?i)\.(?:jpe?g|png|gif|webp|svg)(?:$|\?)`)
	reXHSPaths  = []*regexp.Regexp{
		regexp.MustCompile(`/explore/([A-Za-z0-9]+)`),
		regexp.MustCompile(`/user/profile/[^/]+/([A-Za-z0-9]+)`),
		regexp.MustCompile(`/profile/[^/]+/([A-Za-z0-9]+)`),
		regexp.MustCompile(`/note/([A-Za-z0-9]+)`),
	}
)

// rawSlot 为列表扫描脚本返回的单个槽位。
type rawSlot struct {
	Index    string  `json:"index"`
	Order    int     `json:"order"`
	HeaderID string  `json:"headerId"`
	Href     string  `json:"href"`
	Time     string  `json:"time"`
	Author   string  `json:"author"`
	Mid      string  `json:"mid"`
	Video    bool    `json:"video"`
	Top      float64 `json:"top"`
}

// weiboID 依次取 header id、链接末段、mid 属性、链接查询参数。
func weiboID(s rawSlot) string {
	if id := strings.TrimSpace(s.HeaderID); id != "" {
		return id
	}
	href := cleanHref(s.Href)
	if id := lastSegment(href); reAlnum.MatchString(id) {
		return id
	}
	if id := strings.TrimSpace(s.Mid); id != "" {
		return id
	}
	if u, err := url.Parse(href); err == nil && href != "" {
		q := u.Query()
		for _, k := range []string{"mid", "id", "rid", "weibo_id"} {
			if v := strings.TrimSpace(q.Get(k)); v != "" {
				return v
			}
		}
	}
	return ""
}

// xhsID 从 /explore/<id>、/user/profile/<uid>/<id> 等路径取 8–64 位字母数字 id。
func xhsID(s rawSlot) string { return xhsIDFromHref(s.Href) }

func xhsIDFromHref(href string) string {
	path := strings.TrimSpace(href)
	if path == "" {
		return ""
	}
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	for _, re := range reXHSPaths {
		if m := re.FindStringSubmatch(path); m != nil && validXHSID(m[1]) {
			return m[1]
		}
	}
	if seg := lastSegment(path); validXHSID(seg) {
		return seg
	}
	return ""
}

func validXHSID(s string) bool { return len(s) >= 8 && len(s) <= 64 && reAlnum.MatchString(s) }

// cleanHref 丢弃指向图片的链接。
func cleanHref(h string) string {
	h = strings.TrimSpace(h)
	if isImageLink(h) {
		return ""
	}
	return h
}

func isImageLink(u string) bool {
	core, _, _ := strings.Cut(u, "#")
	return reImageLink.MatchString(core)
}

func lastSegment(href string) string {
	p, _, _ := strings.Cut(href, "?")
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// absURL 把 //host、/path 与相对地址补全为以 base 为根的绝对地址。
func absURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	}
	bu, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if !strings.HasPrefix(ref, "/") && bu.Path == "" {
		bu.Path = "/"
	}
	return bu.ResolveReference(ru).String()
}

// weiboDetailURL 优先使用列表链接，图片链接或缺失时按 id 构造 /detail/<id>。
func weiboDetailURL(base string, ref model.FeedItemRef) string {
	u := absURL(base, cleanHref(ref.RawHref))
	if u == "" && ref.ItemID != "" {
		u = strings.TrimRight(base, "/") + "/detail/" + ref.ItemID
	}
	return u
}

// xhsDetailURL 保留原链接的查询参数（xsec_token 等），缺失时按 id 构造 /explore/<id>。
func xhsDetailURL(base string, ref model.FeedItemRef) string {
	if u := absURL(base, ref.RawHref); u != "" {
		return u
	}
	if ref.ItemID == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/explore/" + ref.ItemID
}
