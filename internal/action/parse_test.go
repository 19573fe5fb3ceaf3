package action

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

func TestResolveDates(t *testing.T) {
	loc, err := time.LoadLocation("America/Montreal")
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)

	d := ResolveDates(now, "America/Montreal", "")
	assert.Equal(t, "2025-03-10", d.Today)
	assert.Equal(t, "2025-03-11", d.Tomorrow)
	assert.Equal(t, "2025-03-09", d.Yesterday)
	assert.Equal(t, "Monday", d.Weekday)
}

func TestResolveDates_UsesSenderZone(t *testing.T) {
	// 02:30 UTC on the 10th is still the 9th in Montreal.
	now := time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-09", ResolveDates(now, "America/Montreal", "").Today)
	assert.Equal(t, "2025-03-10", ResolveDates(now, "Europe/Paris", "").Today)
}

func TestResolveDates_UnknownZoneFallsBack(t *testing.T) {
	now := time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC)

	d := ResolveDates(now, "Mars/Olympus", "")
	assert.Equal(t, FallbackTimezone, d.Location.String())
	assert.Equal(t, "2025-03-09", d.Today)

	d = ResolveDates(now, "", "Asia/Tokyo")
	assert.Equal(t, "Asia/Tokyo", d.Location.String())
}

func TestParseExtraction(t *testing.T) {
	fields := []model.FieldSpec{{Key: "date"}, {Key: "time"}}

	tests := []struct {
		name    string
		raw     string
		all     bool
		missing []string
	}{
		{"plain", `{"hasAllData":true,"data":{"date":"2025-03-10","time":"09:00"}}`, true, nil},
		{"fenced", "```json\n{\"hasAllData\":true,\"data\":{\"date\":\"2025-03-10\",\"time\":\"09:00\"}}\n```", true, nil},
		{"prose around", `Sure! Here it is: {"hasAllData":false,"missing":["time"],"data":{"date":"2025-03-10"}} hope that helps`, false, []string{"time"}},
		{"claims complete but blank", `{"hasAllData":true,"data":{"date":"2025-03-10","time":" "}}`, false, []string{"time"}},
		{"nothing known", `{"hasAllData":false}`, false, []string{"date", "time"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := ParseExtraction(tt.raw, fields)
			require.NoError(t, err)
			assert.Equal(t, tt.all, ex.HasAllData)
			assert.Equal(t, tt.missing, ex.Missing)
			assert.NotNil(t, ex.Data)
		})
	}
}

func TestParseExtraction_Unparsable(t *testing.T) {
	_, err := ParseExtraction("no json here", nil)
	assert.ErrorIs(t, err, ErrExtractionUnparsable)

	_, err = ParseExtraction("{not: valid}", nil)
	assert.ErrorIs(t, err, ErrExtractionUnparsable)
}

func TestParseExtraction_UnparsableErrorKeepsRunesWhole(t *testing.T) {
	_, err := ParseExtraction(strings.Repeat("é", 200), nil)
	require.ErrorIs(t, err, ErrExtractionUnparsable)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.NotContains(t, err.Error(), `\x`)
	assert.Contains(t, err.Error(), "é...")
}
