package track

import (
	"errors"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/capture"
	"github.com/rucachi/onfra/internal/template"
)

const (
	// popTimeout bounds the consumption loop's queue wait so the stop signal
	// is observed promptly. Responsiveness only, not a correctness dependency.
	popTimeout = 100 * time.Millisecond

	// eventBuffer is the emission channel capacity. Overflow drops the oldest
	// pending event, consistent with the frame queue policy.
	eventBuffer = 2
)

// ErrJoinTimeout is returned when Join gives up waiting for the consumption
// loop to exit.
var ErrJoinTimeout = errors.New("timed out waiting for consumption loop")

// TemplateLoader resolves template names at tracker construction time.
// A template.Store satisfies it.
type TemplateLoader interface {
	Load(name string) (*template.Template, error)
}

// Coordinator owns an ordered list of trackers and a single consumption
// goroutine that pulls frames from its bounded queue and fans each frame to
// every tracker. Results for one frame are emitted together as one Event;
// callers never see a partial per-template result set.
type Coordinator struct {
	loader TemplateLoader
	queue  *capture.FrameQueue

	events chan Event
	errs   chan error

	mu        sync.Mutex
	trackers  []*Tracker
	templates []*template.Template
	enabled   bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewCoordinator creates a Coordinator resolving templates via loader.
func NewCoordinator(loader TemplateLoader) *Coordinator {
	return &Coordinator{
		loader:  loader,
		queue:   capture.NewFrameQueue(capture.QueueCapacity),
		events:  make(chan Event, eventBuffer),
		errs:    make(chan error, 8),
		enabled: true,
	}
}

// SetTemplates replaces the tracker set with one tracker per resolvable name,
// in order. The order defines each tracker's stable display identity. Names
// that fail to resolve are skipped and logged, not fatal. Returns the number
// of trackers built.
func (c *Coordinator) SetTemplates(names []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeTrackersLocked()

	for _, name := range names {
		tmpl, err := c.loader.Load(name)
		if err != nil {
			log.Printf("track: skipping template %q: %v", name, err)
			continue
		}
		c.trackers = append(c.trackers, NewTracker(tmpl, len(c.trackers)))
		c.templates = append(c.templates, tmpl)
	}

	log.Printf("track: %d tracker(s) configured", len(c.trackers))
	return len(c.trackers)
}

// TrackerCount returns the number of active trackers.
func (c *Coordinator) TrackerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trackers)
}

// PushFrame enqueues a frame for processing without blocking. The coordinator
// takes ownership of the frame. If the queue is full the oldest pending frame
// is dropped, decoupling ingestion rate from processing rate.
func (c *Coordinator) PushFrame(frame gocv.Mat) {
	c.queue.Push(frame)
}

// Events returns the emission channel. Each event carries the frame and one
// result per tracker; the receiver must close the frame.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Errors returns the channel reporting unexpected per-frame faults. The
// pipeline keeps running after a fault; one bad frame never kills it.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

// SetEnabled pauses or resumes processing. While disabled, incoming frames
// are drained and closed without matching.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled reports whether processing is active.
func (c *Coordinator) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ForceReacquireAll resets every tracker into REACQUIRE.
func (c *Coordinator) ForceReacquireAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.trackers {
		t.ForceReacquire()
	}
	log.Printf("track: forced reacquire on %d tracker(s)", len(c.trackers))
}

// Start launches the consumption loop on its own goroutine.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}

	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stopCh, c.done)

	log.Println("track: coordinator started")
}

// Stop signals the consumption loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// Join waits up to timeout for the consumption loop to exit after Stop.
func (c *Coordinator) Join(timeout time.Duration) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrJoinTimeout
	}
}

// Close releases all trackers and their templates. Call after the loop has
// been stopped and joined.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeTrackersLocked()
	c.queue.Drain()
}

func (c *Coordinator) closeTrackersLocked() {
	for _, t := range c.trackers {
		t.Close()
	}
	for _, tmpl := range c.templates {
		tmpl.Close()
	}
	c.trackers = nil
	c.templates = nil
}

// run is the consumption loop: pop a frame, fan it to every tracker in
// registration order on this single goroutine, emit the aggregate.
func (c *Coordinator) run(stopCh, done chan struct{}) {
	defer close(done)
	defer log.Println("track: coordinator stopped")

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		frame, ok := c.queue.Pop(popTimeout)
		if !ok {
			continue
		}

		if !c.IsEnabled() {
			frame.Close()
			continue
		}

		c.processFrame(frame)
	}
}

// processFrame runs every tracker sequentially against one frame. All
// trackers observe the same frame; the event is emitted only after the last
// tracker has produced its result.
func (c *Coordinator) processFrame(frame gocv.Mat) {
	c.mu.Lock()
	results := make([]Result, 0, len(c.trackers))
	for _, t := range c.trackers {
		result, err := t.ProcessFrame(&frame)
		if err != nil {
			log.Printf("track: matcher fault for %q: %v", t.TemplateName(), err)
			select {
			case c.errs <- err:
			default:
			}
		}
		results = append(results, result)
	}
	c.mu.Unlock()

	c.emit(Event{Frame: frame, Results: results})
}

// emit delivers an event, dropping the oldest pending one on overflow.
// A dropped event's frame is closed here since no receiver will see it.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}

	select {
	case old := <-c.events:
		old.Frame.Close()
	default:
	}

	// Single sender: after draining one slot the send cannot block.
	c.events <- ev
}
