package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rucachi/onfra/internal/app"
)

// TrackHandler serves tracking session control under /api/track.
type TrackHandler struct {
	app *app.App
}

// NewTrackHandler creates a TrackHandler backed by the given app.
func NewTrackHandler(a *app.App) *TrackHandler {
	return &TrackHandler{app: a}
}

// setTemplatesRequest is the body of POST /api/track.
type setTemplatesRequest struct {
	Templates []string `json:"templates"`
}

// enableRequest is the body of POST /api/track/enable.
type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// ServeHTTP routes track control requests.
func (h *TrackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/track")
	action = strings.Trim(action, "/")

	switch {
	case r.Method == http.MethodGet && action == "":
		h.status(w, r)
	case r.Method == http.MethodPost && action == "":
		h.setTemplates(w, r)
	case r.Method == http.MethodPost && action == "reacquire":
		h.reacquire(w, r)
	case r.Method == http.MethodPost && action == "enable":
		h.enable(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// status handles GET /api/track: the most recent cycle's results.
func (h *TrackHandler) status(w http.ResponseWriter, r *http.Request) {
	results, _, when := h.app.Snapshot()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":   h.app.IsEnabled(),
		"trackers":  h.app.Coordinator().TrackerCount(),
		"results":   results,
		"timestamp": when.UnixMilli(),
	})
}

// setTemplates handles POST /api/track: replace the tracked template set.
func (h *TrackHandler) setTemplates(w http.ResponseWriter, r *http.Request) {
	var req setTemplatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	count := h.app.SetTemplates(req.Templates)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(req.Templates),
		"trackers":  count,
	})
}

// reacquire handles POST /api/track/reacquire.
func (h *TrackHandler) reacquire(w http.ResponseWriter, r *http.Request) {
	h.app.ForceReacquireAll()
	w.WriteHeader(http.StatusNoContent)
}

// enable handles POST /api/track/enable.
func (h *TrackHandler) enable(w http.ResponseWriter, r *http.Request) {
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.app.SetEnabled(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}
