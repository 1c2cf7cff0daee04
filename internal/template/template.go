// Package template defines learned visual templates and their feature
// extraction. A template is a named set of ORB keypoints and binary
// descriptors taken from a reference image region, plus the region's
// dimensions so its corners can be reprojected later.
package template

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// Feature extraction configuration. Matching quality depends on templates and
// frames being described with identical parameters, so trackers must use these
// same values when describing incoming frames.
const (
	// NFeatures is the maximum number of ORB features to retain.
	NFeatures = 2000
	// ScaleFactor is the pyramid decimation ratio.
	ScaleFactor = 1.2
	// NLevels is the number of pyramid levels.
	NLevels = 8

	// MinKeypoints is the minimum feature count for a usable template.
	// Homography fitting needs a healthy feature population to be meaningful,
	// so this is a hard gate at creation time.
	MinKeypoints = 10
)

// ErrTooFewKeypoints is returned when a candidate region does not yield
// enough features to form a usable template.
var ErrTooFewKeypoints = errors.New("too few keypoints in template region")

// Template is a named, previously learned visual pattern.
//
// Keypoints may be nil on a template reloaded from storage that was saved
// without them; matching then degrades to the descriptor-only path. RefWidth
// and RefHeight are always present since corner reprojection requires them.
type Template struct {
	ID            string
	Name          string
	RefWidth      int
	RefHeight     int
	Keypoints     []gocv.KeyPoint
	Descriptors   gocv.Mat
	KeypointCount int
	Notes         string
	CreatedAt     time.Time
}

// HasKeypoints reports whether keypoint positions survived storage.
func (t *Template) HasKeypoints() bool {
	return len(t.Keypoints) > 0
}

// Close releases the descriptor matrix.
func (t *Template) Close() {
	if !t.Descriptors.Empty() {
		t.Descriptors.Close()
	}
}

// Store is the persistence boundary for templates. The tracking core does not
// know the storage medium; it only relies on names being unique and Load
// being idempotent.
type Store interface {
	// Save persists a template. Saving a name that already exists replaces it.
	Save(t *Template) error
	// Load retrieves a template by name. Descriptors and reference dimensions
	// are always restored; keypoints are restored when available.
	Load(name string) (*Template, error)
	// List returns the stored template names in name order.
	List() ([]string, error)
	// Delete removes a template by name.
	Delete(name string) error
}
