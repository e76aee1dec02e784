package models

import (
	"strconv"
	"time"
)

// Point is a location in target-face coordinates (1000x1000, center 500,500).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ArrowShot is a single scored arrow. Shots are immutable; edits replace them.
type ArrowShot struct {
	Value     int       `json:"value"`   // 0..10, used for all aggregation
	Display   string    `json:"display"` // "X", "10".."1", "M"
	Position  *Point    `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsX reports whether the shot landed in the inner ten.
func (a ArrowShot) IsX() bool { return a.Display == "X" }

// IsMiss reports whether the shot scored nothing.
func (a ArrowShot) IsMiss() bool { return a.Value == 0 }

// Normalized returns the shot with its value clamped to 0..10 and a label
// consistent with that value.
func (a ArrowShot) Normalized() ArrowShot {
	if a.Value < 0 {
		a.Value = 0
	}
	if a.Value > 10 {
		a.Value = 10
	}
	switch {
	case a.Display == "X" && a.Value == 10:
	case a.Value == 0:
		a.Display = "M"
	default:
		a.Display = strconv.Itoa(a.Value)
	}
	if a.Position != nil {
		p := *a.Position
		a.Position = &p
	}
	return a
}

// End is a completed group of consecutive arrows scored together.
type End struct {
	ID     string      `json:"id"`
	Number int         `json:"number"`
	Arrows []ArrowShot `json:"arrows"`
}

// Score sums the arrow values of the end.
func (e End) Score() int {
	total := 0
	for _, a := range e.Arrows {
		total += a.Value
	}
	return total
}

// Clone returns a copy of the end with its own arrow slice.
func (e End) Clone() End {
	arrows := make([]ArrowShot, len(e.Arrows))
	copy(arrows, e.Arrows)
	e.Arrows = arrows
	return e
}
