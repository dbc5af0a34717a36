package parse

import (
	"regexp"
	"strings"
)

var (
	postcodeRe     = regexp.MustCompile(`(?i)\b([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})\b`)
	fullPostcodeRe = regexp.MustCompile(`(?i)^([A-Z]{1,2}[0-9][A-Z0-9]?)\s*([0-9][A-Z]{2})$`)
	outcodeRe      = regexp.MustCompile(`(?i)^[A-Z]{1,2}[0-9][A-Z0-9]?$`)
	segmentSplitRe = regexp.MustCompile(`[,\n]`)
)

// ExtractPostcode finds the last full UK postcode inside a free-text location.
// It returns the postcode in canonical "OUT IN" form and its outcode.
func ExtractPostcode(location string) (postcode, outcode string, ok bool) {
	matches := postcodeRe.FindAllStringSubmatch(location, -1)
	if len(matches) == 0 {
		return "", "", false
	}
	m := matches[len(matches)-1]
	out := strings.ToUpper(m[1])
	return out + " " + strings.ToUpper(m[2]), out, true
}

// Outcode returns the outward part of a postcode, uppercased. A bare outcode
// is returned as is; a full postcode written without a space is split.
func Outcode(postcode string) string {
	s := strings.ToUpper(strings.TrimSpace(postcode))
	if s == "" {
		return ""
	}
	if m := fullPostcodeRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.Fields(s)[0]
}

// IsOutcode reports whether s looks like a UK outcode such as "SW16" or "EC1A".
func IsOutcode(s string) bool {
	return outcodeRe.MatchString(strings.TrimSpace(s))
}

// IsPostcode reports whether s is a full UK postcode.
func IsPostcode(s string) bool {
	return fullPostcodeRe.MatchString(strings.TrimSpace(s))
}

// LooksLikePostcode accepts either a full postcode or a bare outcode.
func LooksLikePostcode(s string) bool {
	return IsOutcode(s) || IsPostcode(s)
}

// PlaceName returns the first comma or newline separated segment of a
// location with any postcode removed, lowercased and trimmed.
func PlaceName(location string) string {
	for _, seg := range segmentSplitRe.Split(location, -1) {
		seg = postcodeRe.ReplaceAllString(seg, "")
		seg = strings.ToLower(strings.Join(strings.Fields(seg), " "))
		if seg != "" {
			return seg
		}
	}
	return ""
}
