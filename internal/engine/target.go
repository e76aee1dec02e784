package engine

// CurrentEnd is the end id used in references to the in-progress buffer.
const CurrentEnd = "current"

// EditTarget identifies the arrow the next recorded shot will replace.
// A nil EditTarget means no edit is open.
type EditTarget interface {
	isEditTarget()
}

// BufferArrow targets an arrow in the in-progress end.
type BufferArrow struct {
	Index int
}

// EndArrow targets an arrow in a committed end.
type EndArrow struct {
	EndID string
	Index int
}

func (BufferArrow) isEditTarget() {}
func (EndArrow) isEditTarget()    {}

// EditRef is the wire form of an EditTarget.
type EditRef struct {
	EndID string `json:"endId"` // CurrentEnd for the in-progress buffer
	Index int    `json:"index"`
}

// TargetFor builds an EditTarget from its wire form. An empty end id or
// CurrentEnd targets the in-progress buffer.
func TargetFor(endID string, index int) EditTarget {
	if endID == "" || endID == CurrentEnd {
		return BufferArrow{Index: index}
	}
	return EndArrow{EndID: endID, Index: index}
}

// RefFor converts an EditTarget to its wire form; nil stays nil.
func RefFor(t EditTarget) *EditRef {
	switch v := t.(type) {
	case BufferArrow:
		return &EditRef{EndID: CurrentEnd, Index: v.Index}
	case EndArrow:
		return &EditRef{EndID: v.EndID, Index: v.Index}
	default:
		return nil
	}
}
