package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
type MockCamera struct {
	frames   []*gocv.Mat
	index    int
	loop     bool
	mu       sync.Mutex
	running  bool
	width    int
	height   int
	fps      float64
	controls bool // whether exposure/gain writes succeed
}

// NewMockCamera creates a MockCamera playing the given frames.
// When loop is true, playback restarts at the first frame after the last.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	c := &MockCamera{
		frames:   frames,
		loop:     loop,
		width:    DefaultWidth,
		height:   DefaultHeight,
		fps:      DefaultFPS,
		controls: true,
	}
	if len(frames) > 0 && !frames[0].Empty() {
		c.width = frames[0].Cols()
		c.height = frames[0].Rows()
	}
	return c
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	// Clone so the caller can close its copy freely.
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetResolution(width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrCameraNotOpen
	}
	c.width = width
	c.height = height
	return nil
}

func (c *MockCamera) SetFrameRate(fps float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrCameraNotOpen
	}
	c.fps = fps
	return nil
}

func (c *MockCamera) SetExposure(value float64) error {
	return c.control()
}

func (c *MockCamera) SetGain(value float64) error {
	return c.control()
}

func (c *MockCamera) SetAutoExposure(auto bool) error {
	return c.control()
}

func (c *MockCamera) control() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrCameraNotOpen
	}
	if !c.controls {
		return ErrUnsupportedControl
	}
	return nil
}

// SetControlsSupported makes exposure/gain writes fail with
// ErrUnsupportedControl when set to false.
func (c *MockCamera) SetControlsSupported(supported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = supported
}

func (c *MockCamera) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

func (c *MockCamera) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *MockCamera) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetFrames replaces the frame sequence and restarts playback.
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning.
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
