// Package capture provides camera frame acquisition using GoCV (OpenCV).
package capture

import (
	"errors"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// ErrCameraNotOpen is returned when operating on a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// ErrUnsupportedControl is returned when the device ignores a parameter change.
// Consumer hardware commonly rejects exposure and gain writes; callers should
// treat this as non-fatal.
var ErrUnsupportedControl = errors.New("camera control not supported by device")

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetResolution(width, height int) error
	SetFrameRate(fps float64) error
	SetExposure(value float64) error
	SetGain(value float64) error
	SetAutoExposure(auto bool) error
	Width() int
	Height() int
	FPS() float64
	IsOpen() bool
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool

	// Values reported by the device after Open or a successful set.
	width  int
	height int
	fps    float64
}

// NewCamera creates a new Camera for the given device index.
func NewCamera(deviceID int) Camera {
	return &cameraImpl{
		deviceID: deviceID,
		width:    DefaultWidth,
		height:   DefaultHeight,
		fps:      DefaultFPS,
	}
}

// Open opens the capture device and records its reported width, height and
// frame rate. Opening an already open camera is a no-op.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return err
	}

	c.capture = capture
	c.running = true

	// Read back what the device actually delivers.
	c.width = int(capture.Get(gocv.VideoCaptureFrameWidth))
	c.height = int(capture.Get(gocv.VideoCaptureFrameHeight))
	c.fps = capture.Get(gocv.VideoCaptureFPS)

	return nil
}

// Close closes the camera and releases the device handle.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetResolution requests a capture resolution and records the values the
// device actually accepted.
func (c *cameraImpl) SetResolution(width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return ErrCameraNotOpen
	}

	c.capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	c.capture.Set(gocv.VideoCaptureFrameHeight, float64(height))

	c.width = int(c.capture.Get(gocv.VideoCaptureFrameWidth))
	c.height = int(c.capture.Get(gocv.VideoCaptureFrameHeight))

	return nil
}

// SetFrameRate requests a capture frame rate and records the rate the device
// actually reports afterwards.
func (c *cameraImpl) SetFrameRate(fps float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return ErrCameraNotOpen
	}
	if fps <= 0 {
		return errors.New("frame rate must be positive")
	}

	c.capture.Set(gocv.VideoCaptureFPS, fps)
	c.fps = c.capture.Get(gocv.VideoCaptureFPS)

	return nil
}

// SetExposure sets manual exposure on the device. Returns
// ErrUnsupportedControl when the device does not take the value.
func (c *cameraImpl) SetExposure(value float64) error {
	return c.setControl(gocv.VideoCaptureExposure, value)
}

// SetGain sets sensor gain on the device. Returns ErrUnsupportedControl when
// the device does not take the value.
func (c *cameraImpl) SetGain(value float64) error {
	return c.setControl(gocv.VideoCaptureGain, value)
}

// SetAutoExposure toggles automatic exposure. The 0.25/0.75 values follow the
// V4L2/DirectShow convention used by OpenCV backends.
func (c *cameraImpl) SetAutoExposure(auto bool) error {
	value := 0.75
	if !auto {
		value = 0.25
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return ErrCameraNotOpen
	}

	c.capture.Set(gocv.VideoCaptureAutoExposure, value)
	return nil
}

// setControl writes a device property and verifies it stuck by reading it
// back.
func (c *cameraImpl) setControl(prop gocv.VideoCaptureProperties, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return ErrCameraNotOpen
	}

	c.capture.Set(prop, value)

	if actual := c.capture.Get(prop); math.Abs(actual-value) > 1e-3 {
		return ErrUnsupportedControl
	}

	return nil
}

// Width returns the frame width reported by the device.
func (c *cameraImpl) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

// Height returns the frame height reported by the device.
func (c *cameraImpl) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// FPS returns the frame rate reported by the device.
func (c *cameraImpl) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// IsOpen returns true if the camera is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
