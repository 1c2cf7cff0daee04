// Package track implements per-template visual tracking by repeated feature
// matching, and the coordinator that fans one frame stream out to several
// trackers.
package track

// State is the discrete tracking state of a single tracker.
type State int

const (
	// StateIdle means no template is assigned; the tracker does nothing.
	StateIdle State = iota
	// StateSearch means a template is assigned but there is no recent match;
	// every frame is matched in full.
	StateSearch
	// StateTrack means the last match succeeded. Matching still runs on every
	// frame; there is no persistent local tracker, only repeated detection.
	StateTrack
	// StateLost means the consecutive-failure threshold was reached and the
	// bounding region was cleared.
	StateLost
	// StateReacquire is entered automatically one cycle after StateLost, or on
	// an explicit reacquire request. It matches exactly like StateSearch but
	// is externally distinguishable.
	StateReacquire
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSearch:
		return "SEARCH"
	case StateTrack:
		return "TRACK"
	case StateLost:
		return "LOST"
	case StateReacquire:
		return "REACQUIRE"
	default:
		return "UNKNOWN"
	}
}

// searching reports whether the state attempts matching on incoming frames.
func (s State) searching() bool {
	return s == StateSearch || s == StateTrack || s == StateReacquire
}
