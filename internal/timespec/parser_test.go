package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeze(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestParse(t *testing.T) {
	at := time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)
	freeze(t, at)

	tests := []struct {
		spec string
		want time.Time
	}{
		{"2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)},
		{"1h30m", at.Add(-90 * time.Minute)},
		{"45s", at.Add(-45 * time.Second)},
		{"7d", at.Add(-7 * 24 * time.Hour)},
		{"0d", at},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}

	for _, bad := range []string{"", "yesterday", "-3d", "1.5d", "2025-10-29"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseRange(t *testing.T) {
	freeze(t, time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC))

	since, until, err := ParseRange("2d", "1h")
	require.NoError(t, err)
	assert.Less(t, since, until)

	since, until, err = ParseRange("", "")
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = ParseRange("1h", "2d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since must be before --until")

	_, _, err = ParseRange("soon", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --since")

	_, _, err = ParseRange("", "later")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --until")
}
