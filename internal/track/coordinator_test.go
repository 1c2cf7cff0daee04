package track

import (
	"fmt"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/template"
	"github.com/rucachi/onfra/testdata"
)

const coordJoinTimeout = 2 * time.Second

// patternLoader resolves template names from synthetic patterns, extracting a
// fresh template per Load so the coordinator can own and close them.
type patternLoader struct {
	extractor *template.Extractor
	patterns  map[string]gocv.Mat
}

func newPatternLoader(t *testing.T, names ...string) *patternLoader {
	t.Helper()

	l := &patternLoader{
		extractor: template.NewExtractor(),
		patterns:  make(map[string]gocv.Mat),
	}
	for i, name := range names {
		l.patterns[name] = testdata.FeaturePattern(160, 120, int64(i+1))
	}

	t.Cleanup(func() {
		for _, p := range l.patterns {
			p.Close()
		}
		l.extractor.Close()
	})
	return l
}

func (l *patternLoader) Load(name string) (*template.Template, error) {
	pattern, ok := l.patterns[name]
	if !ok {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return l.extractor.Create(name, &pattern, "")
}

func waitEvent(t *testing.T, c *Coordinator, timeout time.Duration) Event {
	t.Helper()

	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a tracking event")
		return Event{}
	}
}

func TestCoordinator_FanOutPreservesOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV feature extraction")
	}

	loader := newPatternLoader(t, "alpha", "beta", "gamma")
	c := NewCoordinator(loader)
	defer c.Close()

	// "ghost" cannot be resolved and must be skipped without shifting the
	// indices of the templates after it.
	n := c.SetTemplates([]string{"alpha", "beta", "ghost", "gamma"})
	if n != 3 {
		t.Fatalf("SetTemplates() = %d trackers, want 3", n)
	}

	c.Start()
	defer func() {
		c.Stop()
		if err := c.Join(coordJoinTimeout); err != nil {
			t.Errorf("Join() error = %v", err)
		}
	}()

	scene := testdata.SceneWithPattern(640, 480, loader.patterns["alpha"], 100, 100)
	c.PushFrame(scene)

	ev := waitEvent(t, c, 5*time.Second)
	defer ev.Frame.Close()

	if len(ev.Results) != 3 {
		t.Fatalf("event carries %d results, want one per tracker (3)", len(ev.Results))
	}

	wantNames := []string{"alpha", "beta", "gamma"}
	for i, r := range ev.Results {
		if r.Index != i {
			t.Errorf("result %d: index = %d, want %d", i, r.Index, i)
		}
		if r.TemplateName != wantNames[i] {
			t.Errorf("result %d: template = %q, want %q", i, r.TemplateName, wantNames[i])
		}
	}

	// The frame contains alpha only; its tracker should lock on while the
	// others keep searching.
	if ev.Results[0].State != StateTrack {
		t.Errorf("alpha state = %v, want TRACK", ev.Results[0].State)
	}
	if ev.Results[0].Box == nil {
		t.Error("alpha result should carry a box")
	}
	for _, r := range ev.Results[1:] {
		if r.State == StateTrack {
			t.Errorf("%s state = TRACK, want no lock on a frame without it", r.TemplateName)
		}
	}
}

func TestCoordinator_EmptyEventWithoutTemplates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	c := NewCoordinator(newPatternLoader(t))
	defer c.Close()

	c.Start()
	defer func() {
		c.Stop()
		if err := c.Join(coordJoinTimeout); err != nil {
			t.Errorf("Join() error = %v", err)
		}
	}()

	c.PushFrame(testdata.FlatFrame(320, 240))

	ev := waitEvent(t, c, 2*time.Second)
	defer ev.Frame.Close()

	if len(ev.Results) != 0 {
		t.Errorf("event carries %d results, want 0 with no templates", len(ev.Results))
	}
}

func TestCoordinator_DisabledDropsFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	c := NewCoordinator(newPatternLoader(t))
	defer c.Close()

	c.Start()
	defer func() {
		c.Stop()
		if err := c.Join(coordJoinTimeout); err != nil {
			t.Errorf("Join() error = %v", err)
		}
	}()

	c.SetEnabled(false)
	c.PushFrame(testdata.FlatFrame(320, 240))

	select {
	case ev := <-c.Events():
		ev.Frame.Close()
		t.Fatal("no event should be emitted while disabled")
	case <-time.After(300 * time.Millisecond):
	}

	c.SetEnabled(true)
	c.PushFrame(testdata.FlatFrame(320, 240))

	ev := waitEvent(t, c, 2*time.Second)
	ev.Frame.Close()
}

func TestCoordinator_SetTemplatesReplaces(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV feature extraction")
	}

	loader := newPatternLoader(t, "alpha", "beta")
	c := NewCoordinator(loader)
	defer c.Close()

	if n := c.SetTemplates([]string{"alpha", "beta"}); n != 2 {
		t.Fatalf("SetTemplates() = %d, want 2", n)
	}
	if n := c.SetTemplates([]string{"beta"}); n != 1 {
		t.Fatalf("second SetTemplates() = %d, want 1", n)
	}
	if c.TrackerCount() != 1 {
		t.Errorf("TrackerCount() = %d, want 1", c.TrackerCount())
	}
}

func TestCoordinator_StopWithoutStart(t *testing.T) {
	c := NewCoordinator(newPatternLoader(t))
	defer c.Close()

	c.Stop()
	if err := c.Join(time.Second); err != nil {
		t.Errorf("Join() without Start error = %v", err)
	}
}
