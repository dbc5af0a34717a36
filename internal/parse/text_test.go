package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{name: "Company name", raw: "Flexitricity Limited", expected: "flexitricitylimited"},
		{name: "Tabs and newlines", raw: " EDF\tEnergy\n Ltd ", expected: "edfenergyltd"},
		{name: "Empty", raw: "", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.raw))
		})
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "cmu_t4cmu001", CacheKey("cmu", "T4CMU001"))

	hashed := CacheKey("company", "EDF Energy")
	assert.Equal(t, "company_", hashed[:len("company_")])
	assert.Len(t, hashed, len("company_")+32)
	assert.Equal(t, hashed, CacheKey("company", "EDF Energy"))
	assert.NotEqual(t, hashed, CacheKey("company", "EDF  Energy"))

	assert.Len(t, CacheKey("x", ""), len("x_")+32)
}

func TestURLParams(t *testing.T) {
	assert.Equal(t, "T-4_2024/25", ToURLParam("T-4 2024/25"))
	assert.Equal(t, "T-4 2024/25", FromURLParam("T-4_2024/25"))
}

func TestParseYear(t *testing.T) {
	assert.Equal(t, 2024, ParseYear("2024/25"))
	assert.Equal(t, 2027, ParseYear("Years: 2027-28"))
	assert.Equal(t, 0, ParseYear("unknown"))
}

func TestParseCapacity(t *testing.T) {
	testCases := []struct {
		name     string
		raw      any
		expected *float64
	}{
		{name: "JSON number", raw: 12.5, expected: ptr(12.5)},
		{name: "Plain string", raw: "3.25", expected: ptr(3.25)},
		{name: "With unit", raw: "1,200.5 MW", expected: ptr(1200.5)},
		{name: "N/A", raw: "N/A", expected: nil},
		{name: "Empty", raw: "", expected: nil},
		{name: "Nil", raw: nil, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseCapacity(tc.raw)
			if tc.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tc.expected, *got, 1e-9)
		})
	}
}

func ptr(f float64) *float64 { return &f }
