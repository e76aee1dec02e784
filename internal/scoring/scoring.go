// Package scoring maps raw input (a keypad label or a point on the target
// face) to an arrow score. Everything here is pure and stateless.
package scoring

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/bullseye/internal/models"
)

// Score is the value and label of a single arrow.
type Score struct {
	Value   int    `json:"value"`
	Display string `json:"display"`
}

var (
	Miss = Score{Value: 0, Display: "M"}
	X    = Score{Value: 10, Display: "X"}
)

// ring is one scoring band. Radii are kept in twentieths of the face
// radius so boundaries stay exact for integer radii.
type ring struct {
	score      Score
	twentieths int
}

func (r ring) radius(faceRadius float64) float64 {
	return faceRadius * float64(r.twentieths) / 20
}

// rings is ordered innermost first so the first match wins on boundaries.
var rings = []ring{
	{X, 1},
	{Score{10, "10"}, 2},
	{Score{9, "9"}, 4},
	{Score{8, "8"}, 6},
	{Score{7, "7"}, 8},
	{Score{6, "6"}, 10},
	{Score{5, "5"}, 12},
	{Score{4, "4"}, 14},
	{Score{3, "3"}, 16},
	{Score{2, "2"}, 18},
	{Score{1, "1"}, 20},
}

// MapPoint scores a point against concentric rings centred on center.
// A point exactly on a boundary belongs to the inner (higher) ring; anything
// beyond radius is a miss.
func MapPoint(p, center models.Point, radius float64) Score {
	d := math.Hypot(p.X-center.X, p.Y-center.Y)
	if math.IsNaN(d) || d > radius {
		return Miss
	}
	for _, r := range rings {
		if d <= r.radius(radius) {
			return r.score
		}
	}
	return Miss
}

// MapLabel converts a keypad label to a score. It never fails: unknown
// labels and values below one are misses, values above ten clamp to ten.
func MapLabel(label string) Score {
	l := strings.ToUpper(strings.TrimSpace(label))
	switch l {
	case "X":
		return X
	case "M", "":
		return Miss
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		return Miss
	}
	if n > 10 {
		n = 10
	}
	return Score{Value: n, Display: strconv.Itoa(n)}
}

// ParseLabel is the strict form of MapLabel: only keypad labels are accepted.
func ParseLabel(label string) (Score, bool) {
	l := strings.ToUpper(strings.TrimSpace(label))
	for _, row := range keypad {
		for _, k := range row {
			if k == l {
				return MapLabel(l), true
			}
		}
	}
	return Score{}, false
}

var keypad = [][]string{
	{"X", "10", "9"},
	{"8", "7", "6"},
	{"5", "4", "3"},
	{"2", "1", "M"},
}

// Keypad returns the keypad layout, top row first.
func Keypad() [][]string {
	out := make([][]string, len(keypad))
	for i, row := range keypad {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Shot builds an ArrowShot from a score. pos may be nil for keypad input.
func Shot(s Score, pos *models.Point, at time.Time) models.ArrowShot {
	var p *models.Point
	if pos != nil {
		cp := *pos
		p = &cp
	}
	return models.ArrowShot{Value: s.Value, Display: s.Display, Position: p, Timestamp: at}
}
