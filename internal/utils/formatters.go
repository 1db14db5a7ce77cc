package utils

import (
	"strings"
	"unicode/utf8"
)

// EscapeTelegramMarkdown экранирует специальные символы для Telegram Markdown (старый стиль).
func EscapeTelegramMarkdown(text string) string {
	var replacer = strings.NewReplacer(
		"_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[",
	)
	return replacer.Replace(text)
}

// Truncate обрезает строку до max символов, добавляя многоточие.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
