// Package stats aggregates scores across ends and sessions.
package stats

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/bullseye/internal/models"
)

// Summary is the arrow breakdown of a session or group of sessions.
type Summary struct {
	Sessions     int     `json:"sessions"`
	TotalArrows  int     `json:"totalArrows"`
	TotalScore   int     `json:"totalScore"`
	AverageArrow float64 `json:"averageArrow"`
	XCount       int     `json:"xCount"`
	TenCount     int     `json:"tenCount"` // includes Xs
	MissCount    int     `json:"missCount"`
}

// Summarize computes the breakdown over the committed arrows of sessions.
func Summarize(sessions ...*models.Session) Summary {
	var s Summary
	for _, sess := range sessions {
		s.Sessions++
		for _, e := range sess.Ends {
			for _, a := range e.Arrows {
				s.TotalArrows++
				s.TotalScore += a.Value
				switch {
				case a.IsX():
					s.XCount++
					s.TenCount++
				case a.Value == 10:
					s.TenCount++
				case a.IsMiss():
					s.MissCount++
				}
			}
		}
	}
	if s.TotalArrows > 0 {
		s.AverageArrow = float64(s.TotalScore) / float64(s.TotalArrows)
	}
	return s
}

// EndAverage is the mean arrow value of an end, 0 for an empty end.
func EndAverage(e models.End) float64 {
	if len(e.Arrows) == 0 {
		return 0
	}
	return float64(e.Score()) / float64(len(e.Arrows))
}

// Range is a look-back window for dashboard views.
type Range string

const (
	RangeWeek    Range = "1W"
	RangeMonth   Range = "1M"
	RangeQuarter Range = "3M"
	RangeYear    Range = "1Y"
	RangeAll     Range = "ALL"
)

var rangeDays = map[Range]int{
	RangeWeek:    7,
	RangeMonth:   30,
	RangeQuarter: 90,
	RangeYear:    365,
}

// ParseRange accepts a range name case-insensitively. Empty means all.
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToUpper(strings.TrimSpace(s)))
	if r == "" {
		return RangeAll, nil
	}
	if _, ok := rangeDays[r]; ok || r == RangeAll {
		return r, nil
	}
	return "", fmt.Errorf("unknown range %q (want 1W, 1M, 3M, 1Y or ALL)", s)
}

// Includes reports whether a session dated d falls in the range. Age is
// the distance from now in either direction, counted in whole days rounded
// up, so a session from this morning is one day old.
func (r Range) Includes(d, now time.Time) bool {
	limit, ok := rangeDays[r]
	if !ok {
		return true
	}
	days := int(math.Ceil(now.Sub(d).Abs().Hours() / 24))
	return days <= limit
}

// Filter returns the sessions inside r, preserving order.
func Filter(sessions []*models.Session, r Range, now time.Time) []*models.Session {
	out := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if r.Includes(s.Date, now) {
			out = append(out, s)
		}
	}
	return out
}

// Point is one session on a trend chart.
type Point struct {
	SessionID    string    `json:"sessionId"`
	Name         string    `json:"name"`
	Date         time.Time `json:"date"`
	AverageArrow float64   `json:"averageArrow"` // rounded to 2 places
	TotalScore   int       `json:"totalScore"`
}

// Trend returns a per-session average series, oldest first. Sessions with
// no committed arrows are skipped. Input may be in any order.
func Trend(sessions []*models.Session) []Point {
	points := make([]Point, 0, len(sessions))
	for _, s := range sessions {
		n := s.ArrowCount()
		if n == 0 {
			continue
		}
		points = append(points, Point{
			SessionID:    s.ID,
			Name:         s.Name,
			Date:         s.Date,
			AverageArrow: Round2(float64(s.TotalScore()) / float64(n)),
			TotalScore:   s.TotalScore(),
		})
	}
	slices.SortStableFunc(points, func(a, b Point) int {
		return a.Date.Compare(b.Date)
	})
	return points
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Dashboard is the combined view for a range. Global covers the whole
// history regardless of the range.
type Dashboard struct {
	Range   Range   `json:"range"`
	Summary Summary `json:"summary"`
	Global  Summary `json:"global"`
	Trend   []Point `json:"trend"`
}

// Build filters sessions by r and computes the summary and trend.
func Build(sessions []*models.Session, r Range, now time.Time) Dashboard {
	in := Filter(sessions, r, now)
	return Dashboard{
		Range:   r,
		Summary: Summarize(in...),
		Global:  Summarize(sessions...),
		Trend:   Trend(in),
	}
}
