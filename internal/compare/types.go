package compare

import (
	"fmt"
	"strings"
	"time"

	"rangecompare/internal/series"
)

// Slot identifies one of the two independent ranges
type Slot int

const (
	Range1 Slot = iota
	Range2
)

// Slots lists both slots in display order
var Slots = [2]Slot{Range1, Range2}

func (s Slot) String() string {
	switch s {
	case Range1:
		return "range1"
	case Range2:
		return "range2"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Label is the series name shown to users
func (s Slot) Label() string {
	return fmt.Sprintf("Range %d", int(s)+1)
}

func (s Slot) valid() bool {
	return s == Range1 || s == Range2
}

// ParseSlot accepts "1", "2", "range1", "range2"
func ParseSlot(v string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "range1":
		return Range1, nil
	case "2", "range2":
		return Range2, nil
	}
	return 0, fmt.Errorf("unknown slot %q", v)
}

// Selection is a user-chosen [Start, End) window. A zero time means the
// bound is absent, as happens when a picker is cancelled half way.
type Selection struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Complete reports whether both bounds are present
func (s Selection) Complete() bool {
	return !s.Start.IsZero() && !s.End.IsZero()
}

// DefaultSelections returns yesterday..today for Range 1 and today..tomorrow
// for Range 2, with day boundaries at midnight in now's location
func DefaultSelections(now time.Time) [2]Selection {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)
	return [2]Selection{
		{Start: yesterday, End: today},
		{Start: today, End: tomorrow},
	}
}

// Phase is the lifecycle position of a slot
type Phase int

const (
	Unselected Phase = iota
	Fetching
	Ready
)

func (p Phase) String() string {
	switch p {
	case Unselected:
		return "unselected"
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Ordering decides which of several in-flight fetches for one slot wins
type Ordering int

const (
	// OrderSelection applies only the most recently issued fetch and cancels the ones it supersedes
	OrderSelection Ordering = iota
	// OrderCompletion applies every result as it arrives, so the last to complete wins
	OrderCompletion
)

func (o Ordering) String() string {
	if o == OrderCompletion {
		return "completion"
	}
	return "selection"
}

// ParseOrdering maps a config value onto an Ordering; empty means OrderSelection
func ParseOrdering(v string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "selection":
		return OrderSelection, nil
	case "completion":
		return OrderCompletion, nil
	}
	return 0, fmt.Errorf("%w: unknown ordering %q", series.ErrInvalidArgument, v)
}

// State is the comparison handed to renderers. Values returned by the
// coordinator are copies and may be modified freely.
type State struct {
	Series1 []series.Sample `json:"series1"`
	Series2 []series.Sample `json:"series2"`
	Version uint64          `json:"version"`
}

// Series returns the samples of one slot
func (s State) Series(slot Slot) []series.Sample {
	if slot == Range2 {
		return s.Series2
	}
	return s.Series1
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	return State{
		Series1: series.Clone(s.Series1),
		Series2: series.Clone(s.Series2),
		Version: s.Version,
	}
}

// SlotView describes one slot for status displays
type SlotView struct {
	Slot      Slot      `json:"-"`
	Name      string    `json:"name"`
	Selection Selection `json:"selection"`
	Phase     Phase     `json:"phase"`
	Seq       uint64    `json:"seq"`
	Samples   int       `json:"samples"`
	Err       string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
