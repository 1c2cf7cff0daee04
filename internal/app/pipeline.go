package app

import (
	"bytes"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/track"
)

// runLoops moves frames from the capture source into the coordinator and
// turns coordinator emissions into the snapshot the serving layer reads.
// Both directions run here so one goroutine owns the snapshot writes.
func (a *App) runLoops(stopCh, done chan struct{}) {
	defer close(done)

	events := a.coord.Events()

	for {
		select {
		case <-stopCh:
			return

		case ev := <-events:
			a.recordCycle(ev)

		default:
			// GetFrame returns as soon as the acquisition loop buffers a
			// frame; the timeout only matters when the camera stalls.
			frame, ok := a.source.GetFrame(pumpTimeout)
			if ok {
				a.coord.PushFrame(frame)
			}
		}
	}
}

// recordCycle stores one emission as the current snapshot and releases the
// previous frame. The frame is kept raw for template capture and encoded as
// JPEG for the stream endpoint.
func (a *App) recordCycle(ev track.Event) {
	buf, err := gocv.IMEncode(".jpg", ev.Frame)

	a.snapMu.Lock()
	if !a.lastFrame.Empty() {
		a.lastFrame.Close()
	}
	a.lastFrame = ev.Frame
	a.lastResults = ev.Results
	a.lastCycle = time.Now()
	if err == nil {
		// Fresh allocation per cycle: Snapshot hands the slice to the stream
		// and websocket writers, which read it after releasing snapMu.
		a.lastJPEG = bytes.Clone(buf.GetBytes())
	}
	a.snapMu.Unlock()

	if err != nil {
		log.Printf("app: frame encode failed: %v", err)
	} else {
		buf.Close()
	}
}
