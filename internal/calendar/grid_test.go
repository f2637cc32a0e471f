package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrid(t *testing.T) {
	g, err := ParseGrid([]string{"08:00", "09:00", "08:00", "10:30"})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "09:00", "10:30"}, g.Slots())
	assert.True(t, g.Contains("10:30"))
	assert.False(t, g.Contains("11:00"))
}

func TestParseGridRejectsBadValues(t *testing.T) {
	for _, bad := range [][]string{{"8:00"}, {"25:00"}, {"09:60"}, {"nine"}, {}} {
		_, err := ParseGrid(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestFree(t *testing.T) {
	g := MustParseGrid("08:00", "09:00", "10:00", "11:00")

	t.Run("nothing booked", func(t *testing.T) {
		assert.Equal(t, g.Slots(), g.Free(nil))
	})

	t.Run("keeps grid order", func(t *testing.T) {
		assert.Equal(t, []string{"08:00", "11:00"}, g.Free([]string{"10:00", "09:00"}))
	})

	t.Run("ignores off-grid and duplicate entries", func(t *testing.T) {
		assert.Equal(t, []string{"08:00", "10:00", "11:00"}, g.Free([]string{"09:00", "09:00", "07:15"}))
	})

	t.Run("fully booked", func(t *testing.T) {
		assert.Empty(t, g.Free(g.Slots()))
	})
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("01/06/2025")
	assert.Error(t, err)
}
