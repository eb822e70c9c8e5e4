package pkg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomString(t *testing.T) {
	s1, err := GenerateRandomString(35)
	require.NoError(t, err)
	s2, err := GenerateRandomString(35)
	require.NoError(t, err)
	assert.NotEmpty(t, s1)
	assert.NotEqual(t, s1, s2)
}

func TestDayOf(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	ts := time.Date(2024, 3, 14, 23, 48, 12, 500, loc)
	day := DayOf(ts)
	assert.Equal(t, 2024, day.Year())
	assert.Equal(t, time.March, day.Month())
	assert.Equal(t, 14, day.Day())
	assert.Equal(t, 0, day.Hour())
	assert.Equal(t, time.UTC, day.Location())
}

func TestKilogramsToPounds(t *testing.T) {
	assert.InDelta(t, 154.3, KilogramsToPounds(70), 0.5)
	assert.InDelta(t, 220.5, KilogramsToPounds(100), 0.5)
	assert.Zero(t, KilogramsToPounds(0))
}
