package models

import "time"

// TargetFace identifies the printed target face a session is shot on.
type TargetFace string

const (
	TargetOutdoor      TargetFace = "WA_OUTDOOR"       // 10-1 with X
	TargetIndoorSingle TargetFace = "WA_INDOOR_SINGLE" // 10-1
	TargetIndoorTriple TargetFace = "WA_INDOOR_TRIPLE" // 10-6
)

// Defaults applied when a session is created without explicit values.
const (
	DefaultTotalEnds    = 10
	DefaultArrowsPerEnd = 3
	DefaultDistance     = 18
	DefaultTargetFace   = TargetOutdoor
)

// Valid reports whether f is one of the known target faces.
func (f TargetFace) Valid() bool {
	switch f {
	case TargetOutdoor, TargetIndoorSingle, TargetIndoorTriple:
		return true
	}
	return false
}

// Session is one practice or competition outing made of a fixed number of ends.
type Session struct {
	ID           string     `json:"id"`
	Date         time.Time  `json:"date"`
	Name         string     `json:"name"`
	TargetType   TargetFace `json:"targetType"`
	TotalEnds    int        `json:"totalEnds"`
	ArrowsPerEnd int        `json:"arrowsPerEnd"`
	Distance     int        `json:"distance"` // meters
	Ends         []End      `json:"ends"`
	IsComplete   bool       `json:"isComplete"`
	Notes        string     `json:"notes,omitempty"`
}

// ArrowCount returns the number of committed arrows across all ends.
func (s *Session) ArrowCount() int {
	n := 0
	for _, e := range s.Ends {
		n += len(e.Arrows)
	}
	return n
}

// TotalScore sums the value of every committed arrow.
func (s *Session) TotalScore() int {
	total := 0
	for _, e := range s.Ends {
		total += e.Score()
	}
	return total
}

// EndByID returns the index of the end with the given id, or -1.
func (s *Session) EndByID(id string) int {
	for i, e := range s.Ends {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Ends = make([]End, len(s.Ends))
	for i, e := range s.Ends {
		c.Ends[i] = e.Clone()
	}
	return &c
}

// Normalize returns a repaired copy of a session loaded from storage.
// Out-of-range values are clamped and unknown labels re-derived. Ends past
// TotalEnds and arrows past ArrowsPerEnd are dropped, ends are renumbered
// in order and IsComplete is recomputed from the end count.
func (s *Session) Normalize() *Session {
	c := s.Clone()
	if c.TotalEnds <= 0 {
		c.TotalEnds = DefaultTotalEnds
	}
	if c.ArrowsPerEnd <= 0 {
		c.ArrowsPerEnd = DefaultArrowsPerEnd
	}
	if !c.TargetType.Valid() {
		c.TargetType = DefaultTargetFace
	}
	if c.Ends == nil {
		c.Ends = []End{}
	}
	if len(c.Ends) > c.TotalEnds {
		c.Ends = c.Ends[:c.TotalEnds]
	}
	for i := range c.Ends {
		c.Ends[i].Number = i + 1
		if len(c.Ends[i].Arrows) > c.ArrowsPerEnd {
			c.Ends[i].Arrows = c.Ends[i].Arrows[:c.ArrowsPerEnd]
		}
		for j, a := range c.Ends[i].Arrows {
			c.Ends[i].Arrows[j] = a.Normalized()
		}
	}
	c.IsComplete = len(c.Ends) >= c.TotalEnds
	return c
}
