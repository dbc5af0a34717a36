package parse

import (
	"regexp"
	"strings"
)

var (
	yearRangeRe = regexp.MustCompile(`\d{4}/\d{2}`)
	yearRe      = regexp.MustCompile(`\d{4}`)
)

// AuctionInfo is the structured form of an auction name such as "T-4 2024/25".
type AuctionInfo struct {
	Type      string // first token, e.g. "T-4"
	YearRange string // "2024/25", or a bare four digit year
	TNumber   string // "T-1", "T-4" or empty
}

// ParseAuction splits an auction name into its type, year range and T-number.
func ParseAuction(name string) AuctionInfo {
	var info AuctionInfo
	if parts := strings.Fields(name); len(parts) > 0 {
		info.Type = parts[0]
	}
	if m := yearRangeRe.FindString(name); m != "" {
		info.YearRange = m
	} else if m := yearRe.FindString(name); m != "" {
		info.YearRange = m
	}
	info.TNumber = TNumber(name)
	return info
}

// TNumber detects T-1 or T-4 in an auction name, accepting "T-1", "T1" and "T 1".
func TNumber(name string) string {
	upper := strings.ToUpper(name)
	switch {
	case hasTNumber(upper, "1"):
		return "T-1"
	case hasTNumber(upper, "4"):
		return "T-4"
	}
	return ""
}

func hasTNumber(upper, n string) bool {
	return strings.Contains(upper, "T-"+n) || strings.Contains(upper, "T"+n) || strings.Contains(upper, "T "+n)
}

// Matches reports whether another auction name belongs to the same auction:
// same T-number (when known) and containing the same year range (when known).
func (a AuctionInfo) Matches(auctionName string) bool {
	if a.TNumber != "" && TNumber(auctionName) != a.TNumber {
		return false
	}
	if a.YearRange != "" && !strings.Contains(auctionName, a.YearRange) {
		return false
	}
	return true
}

// Badge returns the display label and bootstrap colour for an auction.
func Badge(auctionName string) (label, class string) {
	switch t := TNumber(auctionName); t {
	case "T-1":
		return t, "bg-warning"
	case "T-4":
		return t, "bg-info"
	default:
		return auctionName, "bg-secondary"
	}
}
