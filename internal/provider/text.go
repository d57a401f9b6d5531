package provider

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	localPhonePattern = regexp.MustCompile(`^0\d{9}$`)
)

const defaultCountryCode = "254"

// NormalizePhone strips a leading '+' and rewrites local ten-digit numbers
// starting with 0 to the default country code.
func NormalizePhone(phone string) string {
	mobile := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if localPhonePattern.MatchString(mobile) {
		mobile = defaultCountryCode + mobile[1:]
	}
	return mobile
}

// PlainText reduces HTML to text suitable for SMS.
func PlainText(s string) string {
	text := htmlTagPattern.ReplaceAllString(s, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	return strings.TrimSpace(text)
}

func smsText(text, html string) string {
	if t := strings.TrimSpace(text); t != "" {
		return PlainText(t)
	}
	return PlainText(html)
}
