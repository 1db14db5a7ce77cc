package utils

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxFlowNameLength - максимальная длина названия потока в символах.
const MaxFlowNameLength = 100

// ValidateURL проверяет, что строка - абсолютная http(s) ссылка.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \n\t") {
		return "", fmt.Errorf("это не ссылка")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", fmt.Errorf("это не ссылка")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("ссылка должна начинаться с http:// или https://")
	}
	if u.Host == "" {
		return "", fmt.Errorf("в ссылке нет адреса сайта")
	}
	return u.String(), nil
}

// ValidateFlowName проверяет и нормализует название потока.
func ValidateFlowName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("название не может быть пустым")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("название не может начинаться с '/'")
	}
	if utf8.RuneCountInString(name) > MaxFlowNameLength {
		return "", fmt.Errorf("название длиннее %d символов", MaxFlowNameLength)
	}
	return name, nil
}
