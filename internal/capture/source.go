package capture

import (
	"errors"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// QueueCapacity bounds the acquisition queue. Two frames keep latency low
	// while absorbing consumer jitter.
	QueueCapacity = 2

	// readBackoff is the retry delay after a failed device read.
	readBackoff = 10 * time.Millisecond
)

// ErrJoinTimeout is returned when Join gives up waiting for the acquisition
// loop to exit.
var ErrJoinTimeout = errors.New("timed out waiting for acquisition loop")

// Source runs a dedicated acquisition goroutine that reads frames from a
// Camera and pushes them into a bounded drop-oldest queue. One Source owns
// exactly one acquisition goroutine.
type Source struct {
	camera Camera
	queue  *FrameQueue

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewSource creates a Source reading from the given camera.
func NewSource(camera Camera) *Source {
	return &Source{
		camera: camera,
		queue:  NewFrameQueue(QueueCapacity),
	}
}

// Camera returns the underlying camera.
func (s *Source) Camera() Camera {
	return s.camera
}

// Open opens the underlying camera device. It must succeed before Start.
func (s *Source) Open() error {
	return s.camera.Open()
}

// Start begins the acquisition loop on its own goroutine.
// The camera must be open.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return nil
	}
	if !s.camera.IsOpen() {
		return ErrCameraNotOpen
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stopCh, s.done)

	log.Printf("capture: acquisition started (%dx%d @ %.1f fps)",
		s.camera.Width(), s.camera.Height(), s.camera.FPS())
	return nil
}

// GetFrame pops the oldest buffered frame, blocking up to timeout.
// The caller owns the returned Mat and must close it.
func (s *Source) GetFrame(timeout time.Duration) (gocv.Mat, bool) {
	return s.queue.Pop(timeout)
}

// Stop signals the acquisition loop to exit. The camera device is released by
// the loop itself, only after it observes the stop signal.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// Join waits up to timeout for the acquisition loop to exit after Stop.
func (s *Source) Join(timeout time.Duration) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

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

// run is the acquisition loop. Read failures are logged and retried with a
// short backoff; they never terminate the loop.
func (s *Source) run(stopCh, done chan struct{}) {
	defer close(done)
	defer func() {
		s.queue.Drain()
		if err := s.camera.Close(); err != nil {
			log.Printf("capture: error closing camera: %v", err)
		}
		log.Println("capture: acquisition stopped")
	}()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		frame, err := s.camera.ReadFrame()
		if err != nil {
			log.Printf("capture: frame read failed: %v", err)
			select {
			case <-stopCh:
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		s.queue.Push(*frame)
	}
}
