package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	annotations "github.com/gaia-review/gaia/internal/export"
)

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format, out string
		want        annotations.Format
		wantErr     bool
	}{
		{"", "", annotations.FormatCSV, false},
		{"", "results.xlsx", annotations.FormatXLSX, false},
		{"csv", "results.xlsx", annotations.FormatCSV, false},
		{"XLSX", "", annotations.FormatXLSX, false},
		{"", "results.parquet", "", true},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.format, tt.out)
		if tt.wantErr {
			assert.Error(t, err, "%q %q", tt.format, tt.out)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2026-03-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = parseSince("yesterday")
	require.Error(t, err)
}
