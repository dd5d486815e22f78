// 包 feeds 负责订阅来源：
// - Discover：站点地址不是订阅时，按常见路径与 HTML <link rel=alternate> 发现订阅地址
// - Parse：用 gofeed 解析 RSS/Atom/JSON Feed，保留正文 HTML、图片与分类
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"fetch-process/internal/fetch"
	"fetch-process/internal/logx"
)

// Item 为归一化后的订阅条目。
type Item struct {
	GUID       string
	Title      string
	Link       string
	Author     string
	Published  time.Time
	Content    string // HTML
	Images     []string
	Categories []string
}

// 目录相对候选，适配 https://host/blog 这类子路径站点
var dirSuffixes = []string{"index.xml", "atom.xml", "rss.xml", "feed", "feed.xml"}

// 站点根候选
var rootSuffixes = []string{
	"/feed", "/feed/", "/feed.xml", "/index.xml", "/atom.xml", "/rss.xml", "/rss2.xml",
	"/rss", "/atom", "/?feed=rss2", "/?feed=atom", "/index.json", "/feed.json",
}

// Discover 依次探测 feedSuffix、目录相对与站点根的候选地址，最后回退到 HTML <link>。
func Discover(ctx context.Context, cl *fetch.Client, site, feedSuffix string) (string, error) {
	var candidates []string
	if feedSuffix != "" {
		candidates = append(candidates, resolve(site, feedSuffix, false), resolve(site, feedSuffix, true))
	}
	for _, s := range dirSuffixes {
		candidates = append(candidates, resolve(site, s, true))
	}
	for _, s := range rootSuffixes {
		candidates = append(candidates, resolve(site, s, false))
	}
	tried := make(map[string]bool, len(candidates))
	for _, u := range candidates {
		if tried[u] {
			continue
		}
		tried[u] = true
		logx.Debugf("探测候选订阅：%s", u)
		if probe(ctx, cl, u) {
			return u, nil
		}
	}

	resp, err := cl.Get(ctx, site)
	if err != nil {
		return "", fmt.Errorf("GET site %s: %w", site, err)
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var found string
	doc.Find("link[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		typ := strings.ToLower(s.AttrOr("type", ""))
		href := s.AttrOr("href", "")
		isFeedType := strings.Contains(typ, "rss") || strings.Contains(typ, "atom") || strings.Contains(typ, "json")
		if strings.Contains(rel, "alternate") && isFeedType {
			found = resolve(site, href, false)
			return false
		}
		return true
	})
	if found != "" && probe(ctx, cl, found) {
		logx.Debugf("从 <link> 发现订阅：%s", found)
		return found, nil
	}
	return "", fmt.Errorf("no feed discovered for %s", site)
}

// probe 按 Content-Type 与内容头部嗅探地址是否为订阅。
func probe(ctx context.Context, cl *fetch.Client, feedURL string) bool {
	pctx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	resp, err := cl.Get(pctx, feedURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	head, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return looksLikeFeed(resp.Header.Get("Content-Type"), head)
}

func looksLikeFeed(contentType string, head []byte) bool {
	ct := strings.ToLower(contentType)
	lb := bytes.ToLower(head)
	isJSONFeed := bytes.Contains(lb, []byte("jsonfeed.org/version"))
	switch {
	case strings.Contains(ct, "json"):
		return isJSONFeed
	case strings.Contains(ct, "rss"), strings.Contains(ct, "atom"), strings.Contains(ct, "xml"):
		return true
	}
	return bytes.Contains(lb, []byte("<rss")) || bytes.Contains(lb, []byte("<feed")) ||
		bytes.Contains(lb, []byte("<rdf")) || isJSONFeed
}

// resolve 解析相对地址；asDir 为 true 时把 base 视为目录（即便不以 / 结尾）。
func resolve(base, ref string, asDir bool) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
	}
	if asDir {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		ref = strings.TrimLeft(ref, "/")
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return u.String() + ref
	}
	return u.ResolveReference(ru).String()
}

// Parse 抓取并解析订阅，最多返回 max 条（0 表示不限制）。
func Parse(ctx context.Context, cl *fetch.Client, feedURL string, max int) ([]Item, error) {
	rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	resp, err := cl.Get(rctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("GET feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, convert(it, feed))
		if max > 0 && len(items) >= max {
			break
		}
	}
	return items, nil
}

func convert(it *gofeed.Item, feed *gofeed.Feed) Item {
	out := Item{
		GUID:       strings.TrimSpace(it.GUID),
		Title:      strings.TrimSpace(it.Title),
		Link:       strings.TrimSpace(it.Link),
		Author:     authorName(it.Author, it.Authors),
		Content:    it.Content,
		Categories: it.Categories,
	}
	if out.Content == "" {
		out.Content = it.Description
	}
	if out.Author == "" {
		out.Author = authorName(feed.Author, feed.Authors)
	}
	if out.Author == "" {
		out.Author = strings.TrimSpace(feed.Title)
	}
	switch {
	case it.PublishedParsed != nil:
		out.Published = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		out.Published = *it.UpdatedParsed
	}
	if it.Image != nil && it.Image.URL != "" {
		out.Images = append(out.Images, it.Image.URL)
	}
	for _, e := range it.Enclosures {
		if e != nil && strings.HasPrefix(e.Type, "image/") && e.URL != "" && !slices.Contains(out.Images, e.URL) {
			out.Images = append(out.Images, e.URL)
		}
	}
	return out
}

func authorName(a *gofeed.Person, all []*gofeed.Person) string {
	if a == nil && len(all) > 0 {
		a = all[0]
	}
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return strings.TrimSpace(a.Name)
	}
	return strings.TrimSpace(a.Email)
}
