package app

import (
	"bytes"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/capture"
	"github.com/rucachi/onfra/internal/store"
	"github.com/rucachi/onfra/internal/template"
	"github.com/rucachi/onfra/internal/track"
	"github.com/rucachi/onfra/testdata"
)

// newTestApp builds an app backed by a temp database and a mock camera
// looping the given frame.
func newTestApp(t *testing.T, frame *gocv.Mat) (*App, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := New(Config{Store: st, CameraID: 0, Width: 640, Height: 480, FPS: 30})
	t.Cleanup(a.Close)

	var frames []*gocv.Mat
	if frame != nil {
		frames = []*gocv.Mat{frame}
	}
	a.SetCamera(capture.NewMockCamera(frames, true))

	return a, st
}

// saveTestTemplate extracts a template from pattern and persists it.
func saveTestTemplate(t *testing.T, st *store.Store, name string, pattern gocv.Mat) {
	t.Helper()

	extractor := template.NewExtractor()
	defer extractor.Close()

	tmpl, err := extractor.Create(name, &pattern, "")
	if err != nil {
		t.Fatalf("extractor.Create() error = %v", err)
	}
	defer tmpl.Close()

	if err := st.Templates().Save(tmpl); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

// waitForSnapshot polls until the app has processed at least one cycle.
func waitForSnapshot(t *testing.T, a *App, timeout time.Duration) ([]track.Result, []byte) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		results, jpeg, when := a.Snapshot()
		if !when.IsZero() {
			return results, jpeg
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a processed cycle")
	return nil, nil
}

func TestApp_TracksStoredTemplate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV feature extraction")
	}

	pattern := testdata.FeaturePattern(160, 120, 21)
	defer pattern.Close()
	scene := testdata.SceneWithPattern(640, 480, pattern, 200, 150)
	defer scene.Close()

	a, st := newTestApp(t, &scene)
	saveTestTemplate(t, st, "widget", pattern)

	if n := a.SetTemplates([]string{"widget"}); n != 1 {
		t.Fatalf("SetTemplates() = %d, want 1", n)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	// The template is present in every frame, so the tracker should lock on
	// within a few cycles.
	deadline := time.Now().Add(5 * time.Second)
	for {
		results, jpeg, _ := a.Snapshot()
		if len(results) == 1 && results[0].State == track.StateTrack {
			if results[0].Box == nil {
				t.Fatal("tracking result should carry a box")
			}
			if results[0].TemplateName != "widget" {
				t.Errorf("template name = %q, want %q", results[0].TemplateName, "widget")
			}
			if len(jpeg) == 0 {
				t.Error("snapshot should carry an encoded frame")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tracker never reached TRACK; last results: %+v", results)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestApp_CreateTemplateBeforeFirstFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	a, _ := newTestApp(t, nil)

	err := a.CreateTemplate("widget", image.Rect(0, 0, 100, 100), "")
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("CreateTemplate() error = %v, want ErrNoFrame", err)
	}
}

func TestApp_CreateTemplateFromLiveFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV feature extraction")
	}

	pattern := testdata.FeaturePattern(160, 120, 22)
	defer pattern.Close()
	scene := testdata.SceneWithPattern(640, 480, pattern, 100, 100)
	defer scene.Close()

	a, _ := newTestApp(t, &scene)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	waitForSnapshot(t, a, 5*time.Second)

	// The region covers the pasted pattern, so extraction must succeed.
	err := a.CreateTemplate("learned", image.Rect(100, 100, 260, 220), "from live frame")
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	names, err := a.ListTemplates()
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(names) != 1 || names[0] != "learned" {
		t.Errorf("ListTemplates() = %v, want [learned]", names)
	}

	// A featureless region must be rejected.
	err = a.CreateTemplate("flat", image.Rect(400, 10, 560, 90), "")
	if !errors.Is(err, template.ErrTooFewKeypoints) {
		t.Errorf("CreateTemplate() on flat region error = %v, want ErrTooFewKeypoints", err)
	}
}

func TestApp_EnableToggle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	a, _ := newTestApp(t, nil)

	if !a.IsEnabled() {
		t.Error("tracking should start enabled")
	}
	a.SetEnabled(false)
	if a.IsEnabled() {
		t.Error("SetEnabled(false) should disable tracking")
	}
	a.SetEnabled(true)
	if !a.IsEnabled() {
		t.Error("SetEnabled(true) should re-enable tracking")
	}
}

func TestApp_SnapshotBufferSurvivesNextCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	a, _ := newTestApp(t, nil)
	t.Cleanup(func() {
		a.snapMu.Lock()
		if !a.lastFrame.Empty() {
			a.lastFrame.Close()
		}
		a.lastFrame = gocv.Mat{}
		a.snapMu.Unlock()
	})

	patterned := testdata.FeaturePattern(320, 240, 17)
	defer patterned.Close()
	flat := testdata.FlatFrame(320, 240)
	defer flat.Close()

	a.recordCycle(track.Event{Frame: patterned.Clone()})

	_, jpeg, _ := a.Snapshot()
	if len(jpeg) == 0 {
		t.Fatal("snapshot should carry an encoded frame")
	}
	want := append([]byte(nil), jpeg...)

	// The stream and websocket writers hold the returned slice outside the
	// snapshot lock. A later cycle with a smaller encode must not rewrite
	// bytes already handed out.
	a.recordCycle(track.Event{Frame: flat.Clone()})

	if !bytes.Equal(jpeg, want) {
		t.Error("snapshot JPEG was mutated by a later cycle")
	}

	_, next, _ := a.Snapshot()
	if bytes.Equal(next, want) {
		t.Error("snapshot should reflect the newer frame")
	}
}

func TestApp_StopIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	frame := testdata.FlatFrame(320, 240)
	defer frame.Close()

	a, _ := newTestApp(t, &frame)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	a.Stop()
	a.Stop()

	if _, _, when := a.Snapshot(); !when.IsZero() {
		t.Error("snapshot should be cleared after Stop")
	}
}
