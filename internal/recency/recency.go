// 包 recency 负责把各平台的自然语言时间文本归一化，并判断是否落在最近 N 天窗口内。
// 支持：
// - 相对时间（3小时前 / 3 hours ago / 刚刚 / 昨天 14:20 ...）
// - 绝对时间（2024-11-04 20:16、2024年11月4日、11-4、25-12-21 15:46、Nov 4, 2024 ...）
// - 星期/来源/地点后缀，上午/下午、AM/PM、午前/午後、오전/오후 等时段修正
//
// 本包不做任何 I/O，所有函数对任意输入都返回结果而不会 panic。
package recency

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Timestamp 为归一化后的时间。
// Recent 表示来自"秒/分钟/小时前、刚刚、今天/昨天/前天"这类小粒度相对表达，
// 这类时间总是视为在窗口内。
type Timestamp struct {
	Time    time.Time
	HasTime bool
	Recent  bool
}

// String 输出固定格式：日期 "2006-01-02"，含时间时 "2006-01-02 15:04"，秒不为 0 时带秒。
func (t Timestamp) String() string {
	if t.Time.IsZero() {
		return ""
	}
	if !t.HasTime {
		return t.Time.Format("2006-01-02")
	}
	if t.Time.Second() != 0 {
		return t.Time.Format("2006-01-02 15:04:05")
	}
	return t.Time.Format("2006-01-02 15:04")
}

// IsWithin 以当前时间判断 raw 是否在最近 windowDays 天内；空或无法解析视为不在窗口内。
func IsWithin(raw string, windowDays int) bool {
	return IsWithinAt(raw, windowDays, time.Now())
}

// IsWithinAt 与 IsWithin 相同，但使用给定的 now。
func IsWithinAt(raw string, windowDays int, now time.Time) bool {
	ts, ok := Normalize(raw, now)
	if !ok {
		return false
	}
	return ts.WithinAt(windowDays, now)
}

// WithinAt 判断已归一化的时间是否在窗口内。
func (t Timestamp) WithinAt(windowDays int, now time.Time) bool {
	if t.Recent {
		return true
	}
	if windowDays < 0 {
		return false
	}
	cutoff := now.AddDate(0, 0, -windowDays)
	if t.HasTime {
		return !t.Time.Before(cutoff)
	}
	return !t.Time.Before(startOfDay(cutoff))
}

// Format 返回归一化后的文本，无法解析时返回空串。
func Format(raw string, now time.Time) string {
	ts, ok := Normalize(raw, now)
	if !ok {
		return ""
	}
	return ts.String()
}

var (
	reSource    = regexp.MustCompile(`(?i)\s*(?:来自|\bfrom\b|\bvia\b)\s*`)
	reSpaces    = regexp.MustCompile(`\s+`)
	reEditedAt  = regexp.MustCompile(`^(?:编辑于|发布于|发表于|更新于|(?i:edited|posted|published|updated))\s*`)
	reArticle   = regexp.MustCompile(`(?i)\b(?:an?|one)\s+(second|sec|minute|min|hour|hr|day|week|month|year)`)
	reClock     = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)
	reWeekday   = regexp.MustCompile(`(?i)(?:星期|周|礼拜)[一二三四五六日天]|\b(?:mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(?:day|nesday|sday|urday)?\b\.?,?`)
	reYMD       = regexp.MustCompile(`^(\d{4}|\d{2})-(\d{1,2})-(\d{1,2})(?:(?:\s+|T)(\d{1,2}):(\d{2})(?::(\d{2}))?)?(?:\s*(?:Z|[+-]\d{2}:?\d{2}))?$`)
	rePlace     = regexp.MustCompile(`(\d)\s+\p{Han}+$`)
	reMD        = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	reMonDay    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`)
	reDayMon    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:,?\s+(\d{4}))?`)
	reBareClock = regexp.MustCompile(`^\d{1,2}:\d{2}(?::\d{2})?$`)
	reHourOnly  = regexp.MustCompile(`(\d{1,2})\s*[点時时](?:\s*(\d{1,2})\s*分)?`)
)

type relUnit struct {
	re     *regexp.Regexp
	delta  func(n int) time.Duration
	recent bool
}

const day = 24 * time.Hour

// 相对时间规则：顺序敏感（先匹配更细的单位）。
var relUnits = []relUnit{
	{regexp.MustCompile(`(\d+)\s*秒钟?前`), func(n int) time.Duration { return time.Duration(n) * time.Second }, true},
	{regexp.MustCompile(`(\d+)\s*分钟前`), func(n int) time.Duration { return time.Duration(n) * time.Minute }, true},
	{regexp.MustCompile(`(\d+)\s*个?小?时前`), func(n int) time.Duration { return time.Duration(n) * time.Hour }, true},
	{regexp.MustCompile(`(\d+)\s*天前`), func(n int) time.Duration { return time.Duration(n) * day }, false},
	{regexp.MustCompile(`(\d+)\s*(?:周|个?星期)前`), func(n int) time.Duration { return time.Duration(n) * 7 * day }, false},
	{regexp.MustCompile(`(\d+)\s*个?月前`), func(n int) time.Duration { return time.Duration(n) * 30 * day }, false},
	{regexp.MustCompile(`(\d+)\s*年前`), func(n int) time.Duration { return time.Duration(n) * 365 * day }, false},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:seconds?|secs?|s)\s+ago`), func(n int) time.Duration { return time.Duration(n) * time.Second }, true},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?|m)\s+ago`), func(n int) time.Duration { return time.Duration(n) * time.Minute }, true},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:hours?|hrs?|h)\s+ago`), func(n int) time.Duration { return time.Duration(n) * time.Hour }, true},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:days?|d)\s+ago`), func(n int) time.Duration { return time.Duration(n) * day }, false},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:weeks?|w)\s+ago`), func(n int) time.Duration { return time.Duration(n) * 7 * day }, false},
	{regexp.MustCompile(`(?i)(\d+)\s*months?\s+ago`), func(n int) time.Duration { return time.Duration(n) * 30 * day }, false},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:years?|y)\s+ago`), func(n int) time.Duration { return time.Duration(n) * 365 * day }, false},
}

type dayKeyword struct {
	word string
	ago  int
}

// "day before yesterday" 必须先于 "yesterday" 匹配。
var dayKeywords = []dayKeyword{
	{"day before yesterday", 2},
	{"前天", 2},
	{"昨天", 1},
	{"昨日", 1},
	{"yesterday", 1},
	{"今天", 0},
	{"今日", 0},
	{"today", 0},
}

var (
	pmWords = []string{"下午", "晚上", "夜间", "夜里", "傍晚", "午后", "晚间", "中午", "午後", "오후", "afternoon", "evening", "night", "p.m.", "pm"}
	amWords = []string{"上午", "清晨", "凌晨", "早上", "早晨", "午前", "오전", "morning", "a.m.", "am"}
)

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// Normalize 将原始时间文本解析为 Timestamp；ok=false 表示空或无法解析。
func Normalize(raw string, now time.Time) (ts Timestamp, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ts, ok = Timestamp{}, false
		}
	}()
	text := clean(raw)
	if text == "" {
		return Timestamp{}, false
	}
	period := detectPeriod(text)
	text = stripPeriodWords(text)
	lower := strings.ToLower(text)
	now = now.Truncate(time.Second)

	// 相对时间
	expanded := reArticle.ReplaceAllString(lower, "1 $1")
	for _, u := range relUnits {
		m := u.re.FindStringSubmatch(expanded)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Timestamp{}, false
		}
		return Timestamp{Time: now.Add(-u.delta(n)), HasTime: true, Recent: u.recent}, true
	}
	if strings.Contains(lower, "刚刚") || strings.Contains(lower, "just now") || lower == "now" {
		return Timestamp{Time: now, HasTime: true, Recent: true}, true
	}

	// 今天/昨天/前天（可带时分）
	for _, kw := range dayKeywords {
		i := strings.Index(lower, kw.word)
		if i < 0 {
			continue
		}
		base := now.AddDate(0, 0, -kw.ago)
		if h, mi, s, found := clockAfter(lower[i+len(kw.word):]); found {
			h = applyPeriod(h, period)
			t, valid := makeTime(base.Year(), base.Month(), base.Day(), h, mi, s, now.Location())
			if !valid {
				return Timestamp{}, false
			}
			return Timestamp{Time: t, HasTime: true, Recent: true}, true
		}
		return Timestamp{Time: startOfDay(base), Recent: true}, true
	}

	// 仅有时分（如 "20:16"）视为今天
	if reBareClock.MatchString(lower) {
		h, mi, sec, _ := clockAfter(lower)
		t, valid := makeTime(now.Year(), now.Month(), now.Day(), applyPeriod(h, period), mi, sec, now.Location())
		if !valid {
			return Timestamp{}, false
		}
		return Timestamp{Time: t, HasTime: true, Recent: true}, true
	}

	return parseAbsolute(text, period, now)
}

// clean 预处理：全角符号、来源/地点后缀、"编辑于"前缀、多余空白。
func clean(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	r := strings.NewReplacer("\u3000", " ", "\u00a0", " ", "：", ":", "／", "/")
	text = r.Replace(text)
	if loc := reSource.FindStringIndex(text); loc != nil && loc[0] > 0 {
		text = text[:loc[0]]
	}
	if i := strings.Index(text, "·"); i > 0 {
		text = text[:i]
	}
	text = reSpaces.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = reEditedAt.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

type dayPeriod int

const (
	periodNone dayPeriod = iota
	periodAM
	periodPM
)

func detectPeriod(text string) dayPeriod {
	lower := strings.ToLower(text)
	for _, w := range pmWords {
		if containsWord(lower, w) {
			return periodPM
		}
	}
	for _, w := range amWords {
		if containsWord(lower, w) {
			return periodAM
		}
	}
	return periodNone
}

// containsWord 对拉丁字母词要求词边界，避免 "am" 命中 "amazing" 之类。
func containsWord(s, w string) bool {
	if !isLatin(w) {
		return strings.Contains(s, w)
	}
	for start := 0; start < len(s); {
		i := strings.Index(s[start:], w)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isLetter(s[i-1])
		end := i + len(w)
		after := end >= len(s) || !isLetter(s[end])
		if before && after {
			return true
		}
		start = i + 1
	}
	return false
}

func isLatin(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

func stripPeriodWords(text string) string {
	out := text
	for _, w := range periodStrippers {
		if w.re != nil {
			out = w.re.ReplaceAllString(out, "$1 $2")
			continue
		}
		out = strings.ReplaceAll(out, w.word, " ")
	}
	return strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))
}

type periodStripper struct {
	word string
	re   *regexp.Regexp
}

var periodStrippers = func() []periodStripper {
	var out []periodStripper
	for _, w := range append(append([]string{}, pmWords...), amWords...) {
		if isLatin(w) {
			out = append(out, periodStripper{word: w, re: regexp.MustCompile(`(?i)(^|[^a-z])` + regexp.QuoteMeta(w) + `($|[^a-z])`)})
			continue
		}
		out = append(out, periodStripper{word: w})
	}
	return out
}()

// applyPeriod 按 12 小时制修正小时：下午 3 点 → 15，凌晨 12 点 → 0。
func applyPeriod(hour int, p dayPeriod) int {
	switch p {
	case periodPM:
		if hour < 12 {
			return hour + 12
		}
	case periodAM:
		if hour == 12 {
			return 0
		}
	}
	return hour
}

func clockAfter(s string) (h, m, sec int, ok bool) {
	if mm := reClock.FindStringSubmatch(s); mm != nil {
		h, _ = strconv.Atoi(mm[1])
		m, _ = strconv.Atoi(mm[2])
		if mm[3] != "" {
			sec, _ = strconv.Atoi(mm[3])
		}
		return h, m, sec, true
	}
	if mm := reHourOnly.FindStringSubmatch(s); mm != nil {
		h, _ = strconv.Atoi(mm[1])
		if mm[2] != "" {
			m, _ = strconv.Atoi(mm[2])
		}
		return h, m, 0, true
	}
	return 0, 0, 0, false
}

// parseAbsolute 解析绝对日期；无年份时若结果晚于 now+1 天则判定为上一年（跨年回滚）。
func parseAbsolute(text string, period dayPeriod, now time.Time) (Timestamp, bool) {
	loc := now.Location()
	norm := reWeekday.ReplaceAllString(text, " ")

	// 英文月份名
	if m := reMonDay.FindStringSubmatch(norm); m != nil {
		d, _ := strconv.Atoi(m[2])
		return finishAbsolute(m[3], monthNames[strings.ToLower(m[1])[:3]], d, norm, period, now)
	}
	if m := reDayMon.FindStringSubmatch(norm); m != nil {
		d, _ := strconv.Atoi(m[1])
		return finishAbsolute(m[3], monthNames[strings.ToLower(m[2])[:3]], d, norm, period, now)
	}

	norm = strings.NewReplacer("年", "-", "月", "-", "日", " ", "号", " ", "/", "-", ".", "-").Replace(norm)
	// 日期须占满整段文本，"01/08/2025"、"版本 3-4 更新" 之类不按日期解析
	norm = strings.TrimSpace(reSpaces.ReplaceAllString(norm, " "))
	// 末尾的地点（"01-05 江苏"）
	norm = rePlace.ReplaceAllString(norm, "$1")

	if m := reYMD.FindStringSubmatch(norm); m != nil {
		year, _ := strconv.Atoi(m[1])
		if len(m[1]) == 2 {
			year += 2000
		}
		mon, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if m[4] == "" {
			t, ok := makeTime(year, time.Month(mon), d, 0, 0, 0, loc)
			if !ok {
				return Timestamp{}, false
			}
			return Timestamp{Time: t}, true
		}
		h, _ := strconv.Atoi(m[4])
		mi, _ := strconv.Atoi(m[5])
		s := 0
		if m[6] != "" {
			s, _ = strconv.Atoi(m[6])
		}
		t, ok := makeTime(year, time.Month(mon), d, applyPeriod(h, period), mi, s, loc)
		if !ok {
			return Timestamp{}, false
		}
		return Timestamp{Time: t, HasTime: true}, true
	}

	if m := reMD.FindStringSubmatch(norm); m != nil {
		mon, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		if m[3] == "" {
			return rollover(now.Year(), time.Month(mon), d, 0, 0, 0, false, now)
		}
		h, _ := strconv.Atoi(m[3])
		mi, _ := strconv.Atoi(m[4])
		s := 0
		if m[5] != "" {
			s, _ = strconv.Atoi(m[5])
		}
		return rollover(now.Year(), time.Month(mon), d, applyPeriod(h, period), mi, s, true, now)
	}
	return Timestamp{}, false
}

func finishAbsolute(yearText string, mon time.Month, d int, rest string, period dayPeriod, now time.Time) (Timestamp, bool) {
	h, mi, s, hasClock := clockAfter(rest)
	if hasClock {
		h = applyPeriod(h, period)
	}
	if yearText != "" {
		year, _ := strconv.Atoi(yearText)
		t, ok := makeTime(year, mon, d, h, mi, s, now.Location())
		if !ok {
			return Timestamp{}, false
		}
		return Timestamp{Time: t, HasTime: hasClock}, true
	}
	return rollover(now.Year(), mon, d, h, mi, s, hasClock, now)
}

func rollover(year int, mon time.Month, d, h, mi, s int, hasTime bool, now time.Time) (Timestamp, bool) {
	t, ok := makeTime(year, mon, d, h, mi, s, now.Location())
	if !ok {
		return Timestamp{}, false
	}
	if t.After(now.Add(day)) {
		t, ok = makeTime(year-1, mon, d, h, mi, s, now.Location())
		if !ok {
			return Timestamp{}, false
		}
	}
	return Timestamp{Time: t, HasTime: hasTime}, true
}

// makeTime 构造时间并拒绝越界值（如 2 月 30 日、25 点）。
func makeTime(year int, mon time.Month, d, h, mi, s int, loc *time.Location) (time.Time, bool) {
	if mon < 1 || mon > 12 || d < 1 || d > 31 || h < 0 || h > 23 || mi < 0 || mi > 59 || s < 0 || s > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, mon, d, h, mi, s, 0, loc)
	if t.Month() != mon || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
