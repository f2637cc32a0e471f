// Package calendar holds the clinic's bookable slot grid.
package calendar

import (
	"fmt"
	"time"
)

const slotLayout = "15:04"

// Grid is the ordered set of HH:MM slots a doctor can be booked at on any date.
type Grid struct {
	slots []string
	index map[string]struct{}
}

// ParseGrid validates and de-duplicates slots, keeping first-seen order.
func ParseGrid(slots []string) (Grid, error) {
	g := Grid{index: make(map[string]struct{}, len(slots))}
	for _, s := range slots {
		if _, err := time.Parse(slotLayout, s); err != nil || len(s) != len(slotLayout) {
			return Grid{}, fmt.Errorf("invalid slot %q: want HH:MM", s)
		}
		if _, dup := g.index[s]; dup {
			continue
		}
		g.index[s] = struct{}{}
		g.slots = append(g.slots, s)
	}
	if len(g.slots) == 0 {
		return Grid{}, fmt.Errorf("slot grid is empty")
	}
	return g, nil
}

// MustParseGrid is ParseGrid for static grids in tests and tools.
func MustParseGrid(slots ...string) Grid {
	g, err := ParseGrid(slots)
	if err != nil {
		panic(err)
	}
	return g
}

func (g Grid) Slots() []string {
	out := make([]string, len(g.slots))
	copy(out, g.slots)
	return out
}

func (g Grid) Contains(slot string) bool {
	_, ok := g.index[slot]
	return ok
}

// Free returns the grid minus occupied, in grid order. Occupied values that
// are not on the grid are ignored.
func (g Grid) Free(occupied []string) []string {
	taken := make(map[string]struct{}, len(occupied))
	for _, s := range occupied {
		taken[s] = struct{}{}
	}

	free := make([]string, 0, len(g.slots))
	for _, s := range g.slots {
		if _, ok := taken[s]; !ok {
			free = append(free, s)
		}
	}
	return free
}

// ParseDate parses a civil YYYY-MM-DD date into UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return d, nil
}
