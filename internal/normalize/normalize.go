// Package normalize converts heterogeneous source field values into canonical
// types. All functions are pure and never panic; inputs they cannot use degrade
// to "absent" (nil or empty) instead of failing the caller.
package normalize

import (
	"regexp"
	"strings"
)

var (
	ipv4Pattern     = regexp.MustCompile(`^[0-9]{1,3}(\.[0-9]{1,3}){3}$`)
	macHexPattern   = regexp.MustCompile(`^[0-9a-f]{12}$`)
	macSeparators   = regexp.MustCompile(`[:\-\s]`)
	hostnameInvalid = regexp.MustCompile(`[^a-zA-Z0-9.\-]`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
)

// Hostname returns the canonical hostname for v, or nil when nothing usable
// remains. Lists contribute their first element only.
func Hostname(v any) *string {
	switch val := v.(type) {
	case []any:
		if len(val) == 0 {
			return nil
		}
		return Hostname(val[0])
	case []string:
		if len(val) == 0 {
			return nil
		}
		return Hostname(val[0])
	case string:
		h := strings.ToLower(strings.TrimSpace(val))
		h = hostnameInvalid.ReplaceAllString(h, "")
		if h == "" {
			return nil
		}
		return &h
	default:
		return nil
	}
}

// Text returns the trimmed first string of v, or nil when it is empty.
func Text(v any) *string {
	elems := stringElements(v)
	if len(elems) == 0 {
		return nil
	}
	s := strings.TrimSpace(elems[0])
	if s == "" {
		return nil
	}
	return &s
}

// Email returns the lowercased first string of v when it looks like an
// address, or nil.
func Email(v any) *string {
	s := Text(v)
	if s == nil || !emailPattern.MatchString(*s) {
		return nil
	}
	e := strings.ToLower(*s)
	return &e
}

// IPAddresses keeps the string elements of v that look like IPv4 dotted quads.
// Octet ranges are not checked. Order is preserved; the result is never nil.
func IPAddresses(v any) []string {
	out := []string{}
	for _, s := range stringElements(v) {
		s = strings.TrimSpace(s)
		if ipv4Pattern.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

// MACAddresses rewrites every 12-hex-digit element of v, whatever its separators,
// into lowercase xx:xx:xx:xx:xx:xx. Order is preserved; the result is never nil.
func MACAddresses(v any) []string {
	out := []string{}
	for _, s := range stringElements(v) {
		hex := macSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
		if !macHexPattern.MatchString(hex) {
			continue
		}
		var b strings.Builder
		b.Grow(17)
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(hex[i : i+2])
		}
		out = append(out, b.String())
	}
	return out
}

// stringElements coerces a scalar into a one-element list and drops every
// non-string element of a list.
func stringElements(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
