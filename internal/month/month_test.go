package month

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	valid := []string{"2026-01", "2026-12", "1999-09"}
	for _, m := range valid {
		got, err := Parse(m)
		require.NoError(t, err, m)
		assert.Equal(t, m, got)
	}

	invalid := []string{"2026-1", "26-01", "2026-13", "2026-00", "2026/01", "", "2026-01-01"}
	for _, m := range invalid {
		_, err := Parse(m)
		assert.Error(t, err, m)
	}
}

func TestCurrent(t *testing.T) {
	c := FixedClock{At: time.Date(2026, 5, 31, 23, 59, 0, 0, time.UTC)}
	assert.Equal(t, "2026-05", Current(c))
	assert.Equal(t, "2026-05", Current(Fixed("2026-05")))
}

func TestOrdering(t *testing.T) {
	assert.True(t, After("2026-10", "2026-09"))
	assert.True(t, After("2027-01", "2026-12"))
	assert.False(t, After("2026-05", "2026-05"))

	assert.True(t, Started("2026-05", "2026-05"))
	assert.True(t, Started("2026-04", "2026-05"))
	assert.False(t, Started("2026-06", "2026-05"))
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"2026-06", "2026-05", "2026-06", "2026-07", "2026-05"})
	assert.Equal(t, []string{"2026-06", "2026-05", "2026-07"}, got)
}

func TestFixedPanicsOnBadMonth(t *testing.T) {
	assert.Panics(t, func() { Fixed("May 2026") })
}
