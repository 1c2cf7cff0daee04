package track

import (
	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/template"
)

// State machine policy constants.
const (
	// MaxFailCount is the number of consecutive match failures before a
	// tracker declares the target lost.
	MaxFailCount = 5
	// SmoothingAlpha is the weight of the newest measurement in the bounding
	// box exponential moving average.
	SmoothingAlpha = 0.6
	// carryOverScore is the fixed reduced confidence reported while reusing
	// the last known region during a transient failure.
	carryOverScore = 0.3
)

// Tracker follows one template across frames by repeated feature matching.
// All mutable state is owned by whichever goroutine calls ProcessFrame; the
// coordinator is the single writer during a session.
type Tracker struct {
	tmpl    *template.Template
	matcher matcher
	index   int

	state      State
	curBox     *Box
	curCorners []Point
	prevBox    *Box
	failCount  int
}

// NewTracker creates a tracker for the given template. The template is
// treated as immutable for the tracker's lifetime; assigning a different
// template means constructing a new tracker.
func NewTracker(tmpl *template.Template, index int) *Tracker {
	t := &Tracker{
		tmpl:  tmpl,
		index: index,
		state: StateIdle,
	}
	if tmpl != nil {
		t.matcher = newORBMatcher(tmpl)
		t.state = StateSearch
	}
	return t
}

// newTrackerWithMatcher allows tests to inject a stub matcher.
func newTrackerWithMatcher(tmpl *template.Template, index int, m matcher) *Tracker {
	t := NewTracker(nil, index)
	t.tmpl = tmpl
	t.matcher = m
	if tmpl != nil {
		t.state = StateSearch
	}
	return t
}

// TemplateName returns the tracked template's name, or "" when idle.
func (t *Tracker) TemplateName() string {
	if t.tmpl == nil {
		return ""
	}
	return t.tmpl.Name
}

// State returns the current tracking state.
func (t *Tracker) State() State {
	return t.state
}

// ProcessFrame matches the template against one frame and advances the state
// machine. The returned error reports an unexpected matcher fault; the frame
// still counts as a failed match and the pipeline continues.
func (t *Tracker) ProcessFrame(frame *gocv.Mat) (Result, error) {
	result := Result{
		TemplateName: t.TemplateName(),
		Index:        t.index,
		State:        t.state,
	}

	switch {
	case t.state == StateIdle:
		// No template assigned; nothing to do.

	case t.state == StateLost:
		// One externally observable LOST cycle, then search again.
		t.state = StateReacquire
		result.State = t.state

	case t.state.searching():
		m, err := t.matcher.match(frame)
		if m != nil {
			t.succeed(m, &result)
		} else {
			t.fail(&result)
		}
		if err != nil {
			result.StateName = result.State.String()
			return result, err
		}
	}

	result.StateName = result.State.String()
	return result, nil
}

// succeed records a successful match: reset the failure counter, smooth the
// box, and enter TRACK.
func (t *Tracker) succeed(m *matchResult, result *Result) {
	smoothed := t.smooth(m.box)

	t.curBox = &smoothed
	t.curCorners = m.corners
	t.failCount = 0
	t.state = StateTrack

	result.State = t.state
	result.Box = &smoothed
	result.Corners = m.corners
	result.Score = m.score
	result.Matches = m.matches
}

// fail records a failed match. Below the failure threshold the last known
// region is reused at reduced confidence; at the threshold the tracker goes
// LOST and the region is cleared.
func (t *Tracker) fail(result *Result) {
	t.failCount++

	if t.curBox != nil && t.failCount < MaxFailCount {
		result.Box = t.curBox
		result.Corners = t.curCorners
		result.Score = carryOverScore
		return
	}

	if t.failCount >= MaxFailCount {
		t.state = StateLost
		t.curBox = nil
		t.curCorners = nil
		t.prevBox = nil
		result.State = t.state
	}
}

// smooth applies the exponential moving average to a new raw box. The first
// match after a reset seeds the average directly.
func (t *Tracker) smooth(b Box) Box {
	if t.prevBox == nil {
		t.prevBox = &b
		return b
	}

	a := SmoothingAlpha
	p := t.prevBox
	s := Box{
		X: int(a*float64(b.X) + (1-a)*float64(p.X)),
		Y: int(a*float64(b.Y) + (1-a)*float64(p.Y)),
		W: int(a*float64(b.W) + (1-a)*float64(p.W)),
		H: int(a*float64(b.H) + (1-a)*float64(p.H)),
	}
	t.prevBox = &s
	return s
}

// ForceReacquire resets the tracker into REACQUIRE: counters zeroed, region
// cleared. Template features are not re-extracted. Calling it repeatedly is
// equivalent to calling it once.
func (t *Tracker) ForceReacquire() {
	if t.tmpl == nil {
		return
	}
	t.state = StateReacquire
	t.curBox = nil
	t.curCorners = nil
	t.prevBox = nil
	t.failCount = 0
}

// Close releases the matcher's detector resources. The template itself is
// owned by the caller that loaded it.
func (t *Tracker) Close() {
	if t.matcher != nil {
		t.matcher.close()
		t.matcher = nil
	}
}
