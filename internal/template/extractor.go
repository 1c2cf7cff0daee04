package template

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Extractor builds templates from image regions using ORB features.
type Extractor struct {
	orb gocv.ORB
	mu  sync.Mutex
}

// NewExtractor creates an Extractor with the package feature configuration.
func NewExtractor() *Extractor {
	return &Extractor{
		orb: gocv.NewORBWithParams(
			NFeatures, ScaleFactor, NLevels,
			31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20,
		),
	}
}

// Close releases the underlying ORB detector.
func (e *Extractor) Close() error {
	return e.orb.Close()
}

// Create extracts features from region and returns a new template.
// It fails with ErrTooFewKeypoints when fewer than MinKeypoints features are
// found; a template below that population is not usable for matching.
func (e *Extractor) Create(name string, region *gocv.Mat, notes string) (*Template, error) {
	if region == nil || region.Empty() {
		return nil, fmt.Errorf("empty template region")
	}

	keypoints, descriptors := e.detect(region)
	if len(keypoints) < MinKeypoints {
		descriptors.Close()
		return nil, fmt.Errorf("%w: got %d, need %d", ErrTooFewKeypoints, len(keypoints), MinKeypoints)
	}

	t := &Template{
		ID:            uuid.NewString(),
		Name:          name,
		RefWidth:      region.Cols(),
		RefHeight:     region.Rows(),
		Keypoints:     keypoints,
		Descriptors:   descriptors,
		KeypointCount: len(keypoints),
		Notes:         notes,
		CreatedAt:     time.Now(),
	}

	log.Printf("template: created %q with %d keypoints (%dx%d)",
		name, t.KeypointCount, t.RefWidth, t.RefHeight)
	return t, nil
}

// detect runs ORB on a grayscale view of img.
func (e *Extractor) detect(img *gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var gray gocv.Mat
	if img.Channels() == 3 {
		gray = gocv.NewMat()
		gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)
	} else {
		gray = img.Clone()
	}
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	return e.orb.DetectAndCompute(gray, mask)
}
