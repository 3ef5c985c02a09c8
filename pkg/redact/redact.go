// Package redact replaces sensitive substrings with fixed placeholders.
// It is applied to every log attribute, to all prompt content sent to the
// model, and to user-facing error details. The classification returned to
// the caller is never redacted: that is the caller's own data.
package redact

import (
	"regexp"
	"strings"
)

// Placeholders inserted for each pattern class.
const (
	PlaceholderEmail  = "<EMAIL>"
	PlaceholderSSN    = "<SSN>"
	PlaceholderCC     = "<CC>"
	PlaceholderPhone  = "<PHONE>"
	PlaceholderIP     = "<IP>"
	PlaceholderAPIKey = "<APIKEY>"
)

var (
	reEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reSSN   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// Candidate card numbers: 13-19 digits with optional single space/dash
	// separators. Luhn-verified before replacement.
	reCC = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

	rePhoneE164 = regexp.MustCompile(`\+[1-9]\d{7,14}\b`)
	rePhoneUS   = regexp.MustCompile(`(?:\(\d{3}\)[ -.]?|\b\d{3}[ -.])\d{3}[ -.]\d{4}\b|\b\d{10}\b`)

	reIPv4 = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	reKeyPrefixed = regexp.MustCompile(`\b(?:sk-|gsk_|glc_)[A-Za-z0-9_\-]{8,}`)
	reKeyBase64   = regexp.MustCompile(`\b[A-Za-z0-9_\-]{32,}\b`)
)

// Redact applies all pattern classes in order, later patterns running over the
// already-redacted output. Pure: no state, same input gives same output.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, PlaceholderEmail)
	s = reSSN.ReplaceAllString(s, PlaceholderSSN)
	s = redactCards(s)
	s = rePhoneE164.ReplaceAllString(s, PlaceholderPhone)
	s = rePhoneUS.ReplaceAllString(s, PlaceholderPhone)
	s = reIPv4.ReplaceAllString(s, PlaceholderIP)
	s = reKeyPrefixed.ReplaceAllString(s, PlaceholderAPIKey)
	s = reKeyBase64.ReplaceAllString(s, PlaceholderAPIKey)
	return s
}

// redactCards replaces Luhn-valid digit runs only; sequences that merely look
// like card numbers but fail the checksum pass through.
func redactCards(s string) string {
	return reCC.ReplaceAllStringFunc(s, func(m string) string {
		if luhnValid(m) {
			return PlaceholderCC
		}
		return m
	})
}

func luhnValid(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Value walks an arbitrary decoded-JSON value and redacts every string leaf.
// Maps and slices are copied, other values pass through unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case string:
		return Redact(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	default:
		return v
	}
}

// Map redacts all string leaves of a string-keyed map, as used for item content.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := Value(m).(map[string]any)
	return out
}

// ContainsPlaceholder reports whether s already carries any redaction marker.
func ContainsPlaceholder(s string) bool {
	for _, p := range []string{
		PlaceholderEmail, PlaceholderSSN, PlaceholderCC,
		PlaceholderPhone, PlaceholderIP, PlaceholderAPIKey,
	} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
