package track

import (
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/template"
)

// Matching policy constants.
const (
	// ratioThreshold is Lowe's ratio test bound: a candidate match is kept
	// only if its best distance is below this fraction of the second best.
	ratioThreshold = 0.7
	// minGoodMatches is the minimum number of ratio-test survivors needed to
	// attempt localization.
	minGoodMatches = 8
	// ransacThreshold is the RANSAC reprojection error bound in pixels.
	ransacThreshold = 5.0
	// minInliers is the minimum homography inlier count; below it the match
	// spread is too poor for a reliable transform and the degraded estimate
	// is used instead.
	minInliers = 6
	// fallbackScale pads the degraded estimate to the template aspect ratio
	// with a 20% margin. Tunable policy, not a guaranteed-correct estimator.
	fallbackScale = 1.2

	// Geometry validation bounds. These guard against degenerate or runaway
	// homographies.
	minBoxSize       = 20
	maxBoxFrameRatio = 0.9
	maxBorderOverrun = 50

	// Score normalization: full confidence at 20 inliers on the homography
	// path, 30 good matches on the fallback path.
	inlierScoreNorm = 20.0
	matchScoreNorm  = 30.0
)

// matchResult is a successful localization of a template within one frame.
type matchResult struct {
	box     Box
	corners []Point // nil on the fallback path
	score   float64
	matches int
	inliers int
}

// matcher locates a template within a frame. A nil result with a nil error
// means no acceptable localization this frame (expected and frequent); a
// non-nil error means an unexpected fault.
type matcher interface {
	match(frame *gocv.Mat) (*matchResult, error)
	close()
}

// orbMatcher matches ORB descriptors of a template against each frame and
// fits a planar homography over the correspondences.
type orbMatcher struct {
	tmpl *template.Template
	orb  gocv.ORB
	bf   gocv.BFMatcher
	mu   sync.Mutex
}

// newORBMatcher creates a matcher for the given template. The frame detector
// uses the same feature configuration the template was built with.
func newORBMatcher(tmpl *template.Template) *orbMatcher {
	return &orbMatcher{
		tmpl: tmpl,
		orb: gocv.NewORBWithParams(
			template.NFeatures, template.ScaleFactor, template.NLevels,
			31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20,
		),
		bf: gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
	}
}

func (m *orbMatcher) close() {
	m.orb.Close()
	m.bf.Close()
}

func (m *orbMatcher) match(frame *gocv.Mat) (*matchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tmpl.Descriptors.Empty() {
		return nil, nil
	}

	var gray gocv.Mat
	if frame.Channels() == 3 {
		gray = gocv.NewMat()
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		gray = frame.Clone()
	}
	defer gray.Close()

	mask := gocv.NewMat()
	keypoints, descriptors := m.orb.DetectAndCompute(gray, mask)
	mask.Close()
	defer descriptors.Close()

	if descriptors.Empty() || len(keypoints) < template.MinKeypoints {
		return nil, nil
	}

	// Two-nearest-neighbor matching from template to frame descriptors,
	// filtered with Lowe's ratio test.
	knn := m.bf.KnnMatch(m.tmpl.Descriptors, descriptors, 2)
	var good []gocv.DMatch
	for _, pair := range knn {
		if len(pair) == 2 && pair[0].Distance < ratioThreshold*pair[1].Distance {
			good = append(good, pair[0])
		}
	}

	if len(good) < minGoodMatches {
		return nil, nil
	}

	if !m.tmpl.HasKeypoints() {
		// Keypoint positions did not survive storage; only the degraded
		// estimate is available.
		return m.fallback(frame, keypoints, good), nil
	}

	result, rejected := m.homography(frame, keypoints, good)
	if rejected {
		// A homography was fit but its reprojection failed the geometry
		// guards. That is a degenerate or runaway transform, not a poor
		// point spread; the cycle fails rather than degrading to the
		// fallback estimate.
		return nil, nil
	}
	if result == nil {
		result = m.fallback(frame, keypoints, good)
	}
	return result, nil
}

// homography fits a RANSAC homography from template to frame points and
// reprojects the template corners. A nil result with rejected=false means no
// usable fit (too few inliers or no convergence) and the caller may try the
// degraded estimate; rejected=true means a fit was found but its reprojected
// box failed the geometry guards, which fails the whole cycle.
func (m *orbMatcher) homography(frame *gocv.Mat, keypoints []gocv.KeyPoint, good []gocv.DMatch) (*matchResult, bool) {
	src := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer dst.Close()

	for i, dm := range good {
		if dm.QueryIdx >= len(m.tmpl.Keypoints) || dm.TrainIdx >= len(keypoints) {
			return nil, false
		}
		tp := m.tmpl.Keypoints[dm.QueryIdx]
		fp := keypoints[dm.TrainIdx]
		src.SetDoubleAt(i, 0, tp.X)
		src.SetDoubleAt(i, 1, tp.Y)
		dst.SetDoubleAt(i, 0, fp.X)
		dst.SetDoubleAt(i, 1, fp.Y)
	}

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()

	h := gocv.FindHomography(src, &dst, gocv.HomographyMethodRANSAC, ransacThreshold, &inlierMask, 2000, 0.995)
	defer h.Close()
	if h.Empty() {
		return nil, false
	}

	inliers := 0
	for i := 0; i < inlierMask.Rows(); i++ {
		if inlierMask.GetUCharAt(i, 0) != 0 {
			inliers++
		}
	}
	if inliers < minInliers {
		return nil, false
	}

	corners := m.projectCorners(h)
	box, ok := cornerBox(corners)
	if !ok {
		return nil, true
	}

	frameW, frameH := frame.Cols(), frame.Rows()
	if box.W < minBoxSize || box.H < minBoxSize ||
		float64(box.W) > float64(frameW)*maxBoxFrameRatio ||
		float64(box.H) > float64(frameH)*maxBoxFrameRatio {
		return nil, true
	}
	if box.X < -maxBorderOverrun || box.Y < -maxBorderOverrun ||
		box.X+box.W > frameW+maxBorderOverrun || box.Y+box.H > frameH+maxBorderOverrun {
		return nil, true
	}

	box.X = max(0, box.X)
	box.Y = max(0, box.Y)

	return &matchResult{
		box:     box,
		corners: corners,
		score:   math.Min(1.0, float64(inliers)/inlierScoreNorm),
		matches: len(good),
		inliers: inliers,
	}, false
}

// projectCorners maps the template's four corners through the homography.
func (m *orbMatcher) projectCorners(h gocv.Mat) []Point {
	w := float64(m.tmpl.RefWidth)
	ht := float64(m.tmpl.RefHeight)

	src := gocv.NewMatWithSize(4, 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	for i, p := range [4][2]float64{{0, 0}, {w, 0}, {w, ht}, {0, ht}} {
		src.SetDoubleAt(i, 0, p[0])
		src.SetDoubleAt(i, 1, p[1])
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.PerspectiveTransform(src, &dst, h)

	corners := make([]Point, 4)
	for i := range corners {
		corners[i] = Point{X: dst.GetDoubleAt(i, 0), Y: dst.GetDoubleAt(i, 1)}
	}
	return corners
}

// fallback builds a degraded estimate from the spatial bounding box of the
// matched frame points, scaled to the template aspect ratio with a margin.
// Used when matches are sufficient in count but too poorly distributed for a
// reliable homography.
func (m *orbMatcher) fallback(frame *gocv.Mat, keypoints []gocv.KeyPoint, good []gocv.DMatch) *matchResult {
	pts := make([]Point, 0, len(good))
	for _, dm := range good {
		if dm.TrainIdx < len(keypoints) {
			kp := keypoints[dm.TrainIdx]
			pts = append(pts, Point{X: kp.X, Y: kp.Y})
		}
	}
	if len(pts) < 4 {
		return nil
	}

	box, ok := cornerBox(pts)
	if !ok {
		return nil
	}

	if m.tmpl.RefWidth > 0 && m.tmpl.RefHeight > 0 {
		cx, cy := box.Center()
		scale := math.Max(
			float64(box.W)/float64(m.tmpl.RefWidth),
			float64(box.H)/float64(m.tmpl.RefHeight),
		)
		newW := int(float64(m.tmpl.RefWidth) * scale * fallbackScale)
		newH := int(float64(m.tmpl.RefHeight) * scale * fallbackScale)
		box = Box{
			X: max(0, cx-newW/2),
			Y: max(0, cy-newH/2),
			W: newW,
			H: newH,
		}
	}

	frameW, frameH := frame.Cols(), frame.Rows()
	if box.W < minBoxSize || box.H < minBoxSize || box.W > frameW || box.H > frameH {
		return nil
	}

	return &matchResult{
		box:     box,
		score:   math.Min(1.0, float64(len(good))/matchScoreNorm),
		matches: len(good),
	}
}

// cornerBox returns the axis-aligned integer bounding box of a point set.
func cornerBox(pts []Point) (Box, bool) {
	if len(pts) == 0 {
		return Box{}, false
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Box{
		X: int(math.Floor(minX)),
		Y: int(math.Floor(minY)),
		W: int(math.Ceil(maxX)) - int(math.Floor(minX)),
		H: int(math.Ceil(maxY)) - int(math.Floor(minY)),
	}, true
}
