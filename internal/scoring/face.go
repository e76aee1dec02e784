package scoring

import "github.com/joescharf/bullseye/internal/models"

// Normalised face coordinate space. Stored positions are always in these
// units so they stay meaningful regardless of display scale or zoom.
const (
	FaceSize   = 1000.0
	FaceRadius = FaceSize / 2
)

// Face is the geometry of a target face in face coordinates.
type Face struct {
	Type   models.TargetFace `json:"type"`
	Center models.Point      `json:"center"`
	Radius float64           `json:"radius"`
}

// StandardFace is the outdoor face in the normalised coordinate space.
var StandardFace = Face{
	Type:   models.TargetOutdoor,
	Center: models.Point{X: FaceSize / 2, Y: FaceSize / 2},
	Radius: FaceRadius,
}

// FaceFor returns the geometry used for the given face type. All face types
// share the normalised ring layout.
func FaceFor(t models.TargetFace) Face {
	f := StandardFace
	if t.Valid() {
		f.Type = t
	}
	return f
}

// Score maps a point on this face to a score.
func (f Face) Score(p models.Point) Score {
	return MapPoint(p, f.Center, f.Radius)
}

// RingGeometry describes a ring in absolute face units for renderers.
type RingGeometry struct {
	Score  Score   `json:"score"`
	Radius float64 `json:"radius"`
	Band   Band    `json:"band"`
}

// Rings lists the face rings outermost first, the order they are drawn in.
func (f Face) Rings() []RingGeometry {
	out := make([]RingGeometry, 0, len(rings))
	for i := len(rings) - 1; i >= 0; i-- {
		r := rings[i]
		out = append(out, RingGeometry{
			Score:  r.score,
			Radius: r.radius(f.Radius),
			Band:   BandFor(r.score.Value),
		})
	}
	return out
}

// Band is the colour zone a value falls in.
type Band string

const (
	BandGold  Band = "gold"
	BandRed   Band = "red"
	BandBlue  Band = "blue"
	BandBlack Band = "black"
	BandWhite Band = "white"
	BandMiss  Band = "miss"
)

// BandFor returns the colour band for a score value.
func BandFor(value int) Band {
	switch {
	case value >= 9:
		return BandGold
	case value >= 7:
		return BandRed
	case value >= 5:
		return BandBlue
	case value >= 3:
		return BandBlack
	case value >= 1:
		return BandWhite
	default:
		return BandMiss
	}
}
