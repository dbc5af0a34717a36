package parse

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	firstIntRe   = regexp.MustCompile(`\d+`)
	firstFloatRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// Normalize lowercases s and strips all whitespace. Company ids are normalized full names.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// CacheKey builds "<prefix>_<id>". Purely alphanumeric ids are lowercased,
// anything else is replaced by its md5 hex digest so keys stay backend-safe.
func CacheKey(prefix, id string) string {
	if isAlnum(id) {
		return prefix + "_" + strings.ToLower(id)
	}
	sum := md5.Sum([]byte(id))
	return prefix + "_" + hex.EncodeToString(sum[:])
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ToURLParam replaces spaces with underscores for path segments.
func ToURLParam(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

// FromURLParam reverses ToURLParam.
func FromURLParam(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// ParseYear returns the first integer found in s, or 0.
func ParseYear(s string) int {
	m := firstIntRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// ParseCapacity reads a capacity value from a registry field, which may be a
// JSON number or a string such as "12.5" or "12.5 MW". Missing values yield nil.
func ParseCapacity(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(x, ",", ""))
		if s == "" || strings.EqualFold(s, "n/a") {
			return nil
		}
		m := firstFloatRe.FindString(s)
		if m == "" {
			return nil
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}
