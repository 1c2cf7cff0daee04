// Package api implements the REST handlers for the tracking application.
package api

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strings"

	"github.com/rucachi/onfra/internal/app"
	"github.com/rucachi/onfra/internal/store"
	"github.com/rucachi/onfra/internal/template"
)

// TemplateHandler serves template CRUD under /api/templates.
type TemplateHandler struct {
	app *app.App
}

// NewTemplateHandler creates a TemplateHandler backed by the given app.
func NewTemplateHandler(a *app.App) *TemplateHandler {
	return &TemplateHandler{app: a}
}

// createTemplateRequest is the body of POST /api/templates. The region is in
// coordinates of the most recently processed frame.
type createTemplateRequest struct {
	Name   string `json:"name"`
	Region struct {
		X int `json:"x"`
		Y int `json:"y"`
		W int `json:"w"`
		H int `json:"h"`
	} `json:"region"`
	Notes string `json:"notes"`
}

// ServeHTTP routes template requests by method and path.
func (h *TemplateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates")
	name = strings.Trim(name, "/")

	switch {
	case r.Method == http.MethodGet && name == "":
		h.list(w, r)
	case r.Method == http.MethodPost && name == "":
		h.create(w, r)
	case r.Method == http.MethodDelete && name != "":
		h.delete(w, r, name)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/templates.
func (h *TemplateHandler) list(w http.ResponseWriter, r *http.Request) {
	names, err := h.app.ListTemplates()
	if err != nil {
		http.Error(w, "Failed to list templates", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": names})
}

// create handles POST /api/templates: learn a template from a region of the
// current frame and persist it.
func (h *TemplateHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Template name is required", http.StatusBadRequest)
		return
	}
	if req.Region.W <= 0 || req.Region.H <= 0 {
		http.Error(w, "Region must have positive dimensions", http.StatusBadRequest)
		return
	}

	region := image.Rect(req.Region.X, req.Region.Y,
		req.Region.X+req.Region.W, req.Region.Y+req.Region.H)

	err := h.app.CreateTemplate(req.Name, region, req.Notes)
	switch {
	case errors.Is(err, app.ErrNoFrame):
		http.Error(w, "No frame captured yet", http.StatusServiceUnavailable)
		return
	case errors.Is(err, template.ErrTooFewKeypoints):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, "Failed to create template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"name": req.Name})
}

// delete handles DELETE /api/templates/{name}.
func (h *TemplateHandler) delete(w http.ResponseWriter, r *http.Request, name string) {
	err := h.app.DeleteTemplate(name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Template not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to delete template", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
