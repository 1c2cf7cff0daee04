// Package testdata generates synthetic frames for tests. Patterns are drawn
// procedurally so tests need no image assets; a fixed seed makes them
// deterministic.
package testdata

import (
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"
)

// FeaturePattern returns a corner-rich synthetic image built from random
// high-contrast shapes. ORB finds hundreds of keypoints in it, which makes it
// suitable as a template region. Deterministic per seed.
func FeaturePattern(width, height int, seed int64) gocv.Mat {
	rng := rand.New(rand.NewSource(seed))

	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(96, 96, 96, 0))

	randColor := func() color.RGBA {
		return color.RGBA{
			R: uint8(rng.Intn(256)),
			G: uint8(rng.Intn(256)),
			B: uint8(rng.Intn(256)),
			A: 0,
		}
	}

	// Filled rectangles and circles produce strong corners and blobs.
	for i := 0; i < 60; i++ {
		x := rng.Intn(width)
		y := rng.Intn(height)
		w := 4 + rng.Intn(width/4)
		h := 4 + rng.Intn(height/4)
		gocv.Rectangle(&img, image.Rect(x, y, min(x+w, width-1), min(y+h, height-1)), randColor(), -1)
	}
	for i := 0; i < 30; i++ {
		center := image.Pt(rng.Intn(width), rng.Intn(height))
		gocv.Circle(&img, center, 2+rng.Intn(height/8), randColor(), -1)
	}
	for i := 0; i < 20; i++ {
		p1 := image.Pt(rng.Intn(width), rng.Intn(height))
		p2 := image.Pt(rng.Intn(width), rng.Intn(height))
		gocv.Line(&img, p1, p2, randColor(), 1+rng.Intn(3))
	}

	return img
}

// FlatFrame returns a uniform gray frame that yields no usable features.
func FlatFrame(width, height int) gocv.Mat {
	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(128, 128, 128, 0))
	return img
}

// SceneWithPattern returns a flat frame with pattern pasted at the given
// offset. The pattern must fit within the frame.
func SceneWithPattern(frameWidth, frameHeight int, pattern gocv.Mat, offsetX, offsetY int) gocv.Mat {
	frame := FlatFrame(frameWidth, frameHeight)

	roi := frame.Region(image.Rect(offsetX, offsetY, offsetX+pattern.Cols(), offsetY+pattern.Rows()))
	pattern.CopyTo(&roi)
	roi.Close()

	return frame
}
