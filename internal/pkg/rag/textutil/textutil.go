// Package textutil 提供 RAG 相关的文本处理工具函数。
package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// listMarker 匹配行首的编号或项目符号，如 "1." "2)" "-" "*" "•" "Q1:"。
var listMarker = regexp.MustCompile(`^\s*(?:(?:\d+|[a-zA-Z]|Q\d+)[.):]\s+|[-*•·]+\s*)`)

// CleanListItem 去除行首编号、项目符号、Markdown 加粗与包裹引号。
func CleanListItem(line string) string {
	s := strings.TrimSpace(line)
	for {
		next := listMarker.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = strings.TrimSpace(next)
	}
	s = strings.Trim(s, "*_`")
	s = strings.Trim(s, `"'“”`)
	return strings.TrimSpace(s)
}

// SplitQuestions 将模型输出按行拆分为问题列表。
// 空行、以冒号结尾的引导语和重复行被忽略，maxCount > 0 时最多返回 maxCount 条。
func SplitQuestions(text string, maxCount int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		q := CleanListItem(line)
		if q == "" || strings.HasSuffix(q, ":") || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if maxCount > 0 && len(out) == maxCount {
			break
		}
	}
	return out
}
