package model

import (
	"math"
	"strconv"
	"strings"
)

// ParseCount 把平台展示的互动计数转为整数：
// "1.2万" → 12000，"3w" → 30000，"4k" → 4000，"10万+" → 100000，"1,234" → 1234。
// 无法识别（如 "赞"、"评论"）返回 0。
func ParseCount(raw string) int {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "+")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	mul := 1.0
	switch {
	case strings.HasSuffix(s, "亿"):
		mul, s = 1e8, strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "万"):
		mul, s = 1e4, strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "w"):
		mul, s = 1e4, strings.TrimSuffix(s, "w")
	case strings.HasSuffix(s, "k"):
		mul, s = 1e3, strings.TrimSuffix(s, "k")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int(math.Round(f * mul))
}
