package cli

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// TruncateString never exceeds the limit and keeps short strings intact.
func TestPropertyTruncateString(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("result fits the limit", prop.ForAll(
		func(s string, maxLen int) bool {
			out := TruncateString(s, maxLen)
			if utf8.RuneCountInString(s) <= maxLen {
				return out == s
			}
			return utf8.RuneCountInString(out) == maxLen
		},
		gen.AnyString(),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

func TestFormatDurationExamples(t *testing.T) {
	testCases := []struct {
		d        time.Duration
		expected string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatDuration(tc.d))
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "10.50", FormatPrice(10.5))
	assert.Equal(t, "0.1234", FormatPrice(0.12341))
	assert.Equal(t, "85%", FormatConfidence(0.85))
	assert.Equal(t, "0/0", FormatProgress(-1, 0))
	assert.Equal(t, "120/480 (25.0%)", FormatProgress(119, 480))
	assert.Equal(t, "-", FormatBarTime(0))
	assert.Equal(t, "2024-01-02 09:30", FormatBarTime(time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC).UnixMilli()))
	assert.Equal(t, "ab  ", PadRight("ab", 4))
}
