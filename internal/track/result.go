package track

import "gocv.io/x/gocv"

// Box is an axis-aligned bounding region in frame coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the box center.
func (b Box) Center() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// IoU computes the intersection-over-union of two boxes.
func (b Box) IoU(o Box) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.W, o.X+o.W)
	y2 := min(b.Y+b.H, o.Y+o.H)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := b.W*b.H + o.W*o.H - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Point is a 2D frame coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is the outcome of matching one template against one frame.
// Box and Corners are nil when the tracker has no current estimate; Corners
// is additionally nil on the degraded (non-homography) estimate path.
type Result struct {
	TemplateName string  `json:"template"`
	Index        int     `json:"index"` // registration order; stable display identity
	State        State   `json:"-"`
	StateName    string  `json:"state"`
	Box          *Box    `json:"box,omitempty"`
	Corners      []Point `json:"corners,omitempty"`
	Score        float64 `json:"score"`
	Matches      int     `json:"matches"`
}

// Event is one coordinator cycle: the frame together with one result per
// registered tracker, in registration order. The receiver owns Frame and must
// close it.
type Event struct {
	Frame   gocv.Mat
	Results []Result
}
