package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rucachi/onfra/internal/app"
)

// streamInterval paces the MJPEG stream at roughly 15 FPS.
const streamInterval = 66 * time.Millisecond

// StreamHandler serves the latest processed frame as an MJPEG stream.
type StreamHandler struct {
	app *app.App
}

// NewStreamHandler creates a StreamHandler backed by the given app.
func NewStreamHandler(a *app.App) *StreamHandler {
	return &StreamHandler{app: a}
}

// ServeHTTP streams MJPEG frames to connected clients. Frames come from the
// app's snapshot, so the stream never competes with the tracker for the
// camera.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastSent time.Time
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		_, jpeg, when := h.app.Snapshot()
		if len(jpeg) == 0 || !when.After(lastSent) {
			time.Sleep(streamInterval)
			continue
		}
		lastSent = when

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(streamInterval)
	}
}
