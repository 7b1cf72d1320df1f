package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetweenIgnoresClockAndZone(t *testing.T) {
	caracas := time.FixedZone("VET", -4*60*60)
	from := time.Date(2026, 3, 1, 23, 59, 0, 0, caracas)
	to := time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysBetween(from, to))
	assert.Equal(t, -1, DaysBetween(to, from))
	assert.Equal(t, 0, DaysBetween(from, from.Add(-time.Hour)))
	assert.Equal(t, 365, DaysBetween(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDateOfAndParseDate(t *testing.T) {
	instant := time.Date(2026, 7, 4, 18, 45, 12, 99, time.Local)
	day := DateOf(instant)
	assert.Equal(t, "2026-07-04", day.Format(DateLayout))
	assert.Zero(t, day.Hour())

	parsed, err := ParseDate("2026-07-04", nil)
	require.NoError(t, err)
	assert.True(t, day.Equal(parsed))

	_, err = ParseDate("04/07/2026", time.UTC)
	assert.Error(t, err)

	scanned := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Local, LocalDate(scanned).Location())
	assert.Equal(t, "2026-07-04", LocalDate(scanned).Format(DateLayout))
}
