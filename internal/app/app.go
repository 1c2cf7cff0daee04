// Package app wires the capture source, the tracking coordinator, and the
// template store into one runnable tracking session.
package app

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/capture"
	"github.com/rucachi/onfra/internal/store"
	"github.com/rucachi/onfra/internal/template"
	"github.com/rucachi/onfra/internal/track"
)

const (
	// pumpTimeout bounds the pump loop's wait on the capture queue so the
	// stop signal is observed promptly.
	pumpTimeout = 500 * time.Millisecond

	// JoinTimeout is the shutdown budget for each worker loop. Exceeding it
	// means a loop is stuck; shutdown proceeds anyway rather than hanging the
	// host process.
	JoinTimeout = 2 * time.Second
)

// ErrNoFrame is returned when a template capture is requested before any
// frame has been processed.
var ErrNoFrame = errors.New("no frame available yet")

// Config holds configuration options for the application.
type Config struct {
	Store    *store.Store
	CameraID int
	Width    int
	Height   int
	FPS      float64
}

// App owns a tracking session: one acquisition goroutine, one consumption
// goroutine, and the pump between them.
type App struct {
	config    Config
	source    *capture.Source
	coord     *track.Coordinator
	extractor *template.Extractor
	templates *store.TemplateRepository

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}

	// Most recent cycle, retained for the serving layer (MJPEG endpoint and
	// result broadcaster poll this instead of tapping the hot path).
	snapMu      sync.RWMutex
	lastFrame   gocv.Mat
	lastJPEG    []byte
	lastResults []track.Result
	lastCycle   time.Time
}

// New creates an App with the given configuration.
func New(config Config) *App {
	templates := config.Store.Templates()

	return &App{
		config:    config,
		source:    capture.NewSource(capture.NewCamera(config.CameraID)),
		coord:     track.NewCoordinator(templates),
		extractor: template.NewExtractor(),
		templates: templates,
	}
}

// SetCamera replaces the capture device. Intended for tests and must be
// called before Start.
func (a *App) SetCamera(camera capture.Camera) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = capture.NewSource(camera)
}

// Camera returns the capture device.
func (a *App) Camera() capture.Camera {
	return a.source.Camera()
}

// Coordinator returns the tracking coordinator.
func (a *App) Coordinator() *track.Coordinator {
	return a.coord
}

// Start opens the camera, applies the configured device parameters, and
// launches the acquisition, pump, and consumption loops.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.source.Open(); err != nil {
		return fmt.Errorf("failed to open camera %d: %w", a.config.CameraID, err)
	}

	camera := a.source.Camera()
	if a.config.Width > 0 && a.config.Height > 0 {
		if err := camera.SetResolution(a.config.Width, a.config.Height); err != nil {
			log.Printf("app: resolution %dx%d not applied: %v", a.config.Width, a.config.Height, err)
		}
	}
	if a.config.FPS > 0 {
		if err := camera.SetFrameRate(a.config.FPS); err != nil {
			log.Printf("app: frame rate %.1f not applied: %v", a.config.FPS, err)
		}
	}

	if err := a.source.Start(); err != nil {
		camera.Close()
		return err
	}

	a.coord.Start()

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.runLoops(a.stopCh, a.done)

	log.Println("app: tracking session started")
	return nil
}

// Stop halts all loops and releases the camera and tracker resources.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh == nil {
		return
	}

	close(a.stopCh)
	a.stopCh = nil

	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(JoinTimeout):
			log.Println("app: pump loop did not stop in time")
		}
		a.done = nil
	}

	a.coord.Stop()
	if err := a.coord.Join(JoinTimeout); err != nil {
		log.Printf("app: %v", err)
	}
	a.coord.Close()

	a.source.Stop()
	if err := a.source.Join(JoinTimeout); err != nil {
		log.Printf("app: %v", err)
	}

	a.snapMu.Lock()
	if !a.lastFrame.Empty() {
		a.lastFrame.Close()
	}
	a.lastFrame = gocv.Mat{}
	a.lastJPEG = nil
	a.lastResults = nil
	a.snapMu.Unlock()

	log.Println("app: tracking session stopped")
}

// Close releases resources not tied to a running session.
func (a *App) Close() {
	a.extractor.Close()
}

// SetTemplates configures the tracked template set by name, in order.
// Unresolvable names are skipped. Returns the number of trackers built.
func (a *App) SetTemplates(names []string) int {
	return a.coord.SetTemplates(names)
}

// ForceReacquireAll resets every tracker into REACQUIRE.
func (a *App) ForceReacquireAll() {
	a.coord.ForceReacquireAll()
}

// SetEnabled pauses or resumes tracking without tearing down the session.
func (a *App) SetEnabled(enabled bool) {
	a.coord.SetEnabled(enabled)
}

// IsEnabled reports whether tracking is active.
func (a *App) IsEnabled() bool {
	return a.coord.IsEnabled()
}

// ListTemplates returns the stored template names.
func (a *App) ListTemplates() ([]string, error) {
	return a.templates.List()
}

// DeleteTemplate removes a stored template by name.
func (a *App) DeleteTemplate(name string) error {
	return a.templates.Delete(name)
}

// CreateTemplate learns a new template from a region of the most recent
// frame and persists it. Fails if the region yields too few keypoints.
func (a *App) CreateTemplate(name string, region image.Rectangle, notes string) error {
	a.snapMu.RLock()
	var frame gocv.Mat
	if !a.lastFrame.Empty() {
		frame = a.lastFrame.Clone()
	}
	a.snapMu.RUnlock()

	if frame.Empty() {
		return ErrNoFrame
	}
	defer frame.Close()

	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	region = region.Intersect(bounds)
	if region.Empty() {
		return fmt.Errorf("region outside frame bounds")
	}

	view := frame.Region(region)
	crop := view.Clone()
	view.Close()
	defer crop.Close()

	tmpl, err := a.extractor.Create(name, &crop, notes)
	if err != nil {
		return err
	}
	defer tmpl.Close()

	return a.templates.Save(tmpl)
}

// Snapshot returns the most recent cycle's results, the JPEG-encoded frame,
// and the cycle timestamp.
func (a *App) Snapshot() ([]track.Result, []byte, time.Time) {
	a.snapMu.RLock()
	defer a.snapMu.RUnlock()
	return a.lastResults, a.lastJPEG, a.lastCycle
}
