package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/alert"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/bus"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

// --- fakes ---

type fakeElement struct {
	texts    []string
	children []domain.UIElement
}

func (f *fakeElement) Texts() []string              { return f.texts }
func (f *fakeElement) Children() []domain.UIElement { return f.children }

type fakeWindowSystem struct {
	mu      sync.Mutex
	windows []domain.Window
	trees   map[string]domain.UIElement
	listErr error
}

func (f *fakeWindowSystem) setWindows(wins ...domain.Window) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = wins
}

func (f *fakeWindowSystem) ListWindows(ctx context.Context, owner string) ([]domain.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Window{}, f.windows...), nil
}

func (f *fakeWindowSystem) ElementTree(ctx context.Context, handle string) (domain.UIElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[handle]
	if !ok {
		return nil, errors.New("no such window")
	}
	return tree, nil
}

type fakePermission struct{ granted bool }

func (f *fakePermission) CheckPermission(ctx context.Context) bool { return f.granted }
func (f *fakePermission) RequestPermission(ctx context.Context) error {
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- CollectTexts ---

func TestCollectTexts_OrderAndDedup(t *testing.T) {
	tree := &fakeElement{
		texts: []string{"root", "dup"},
		children: []domain.UIElement{
			&fakeElement{texts: []string{"first-child"}},
			&fakeElement{
				texts: []string{"dup", "second-child"},
				children: []domain.UIElement{
					&fakeElement{texts: []string{"grandchild"}},
				},
			},
		},
	}

	want := []string{"root", "dup", "first-child", "second-child", "grandchild"}
	if got := CollectTexts(tree); !reflect.DeepEqual(got, want) {
		t.Fatalf("CollectTexts = %v, want %v", got, want)
	}
}

func TestCollectTexts_DeepTreeNoRecursion(t *testing.T) {
	// A degenerate 100k-deep chain must not blow the stack.
	leaf := &fakeElement{texts: []string{"leaf"}}
	var root domain.UIElement = leaf
	for i := 0; i < 100_000; i++ {
		root = &fakeElement{children: []domain.UIElement{root}}
	}
	got := CollectTexts(root)
	if len(got) != 1 || got[0] != "leaf" {
		t.Fatalf("CollectTexts = %v", got)
	}
}

func TestCollectTexts_NilRoot(t *testing.T) {
	if got := CollectTexts(nil); got != nil {
		t.Fatalf("CollectTexts(nil) = %v", got)
	}
}

// --- WindowWatcher ---

func alertTree() domain.UIElement {
	return &fakeElement{
		texts: []string{"LuLu Alert"},
		children: []domain.UIElement{
			&fakeElement{texts: []string{"/usr/bin/curl", "4821"}},
			&fakeElement{texts: []string{"93.184.216.34", "443 (TCP)"}},
		},
	}
}

func newTestWatcher(ws *fakeWindowSystem, perm *fakePermission, events *bus.EventBus) *WindowWatcher {
	return NewWindowWatcher(WindowConfig{
		Owner:      "LuLu",
		Marker:     "Alert",
		Interval:   5 * time.Millisecond,
		Windows:    ws,
		Permission: perm,
		Extractor:  alert.NewExtractor(alert.ExtractorConfig{Logger: quietLogger()}),
		Events:     events,
		Logger:     quietLogger(),
	})
}

func TestWindowWatcher_PermissionDeniedStaysIdle(t *testing.T) {
	ws := &fakeWindowSystem{}
	w := newTestWatcher(ws, &fakePermission{granted: false}, bus.New(quietLogger()))

	w.Start(context.Background())
	if w.Monitoring() {
		t.Fatal("watcher must stay idle without permission")
	}
}

func TestWindowWatcher_DetectsNewAlertOnce(t *testing.T) {
	ws := &fakeWindowSystem{trees: map[string]domain.UIElement{"w1": alertTree()}}
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 600})

	events := bus.New(quietLogger())
	detected := make(chan bus.Event, 8)
	events.On(bus.EventAlertDetected, func(e bus.Event) { detected <- e })

	w := newTestWatcher(ws, &fakePermission{granted: true}, events)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	defer w.Stop()
	if !w.Monitoring() {
		t.Fatal("watcher should be polling")
	}

	var evt bus.Event
	select {
	case evt = <-detected:
	case <-time.After(time.Second):
		t.Fatal("no alert event within deadline")
	}

	a, ok := evt.Payload["alert"].(*domain.ConnectionAlert)
	if !ok {
		t.Fatalf("payload alert missing: %+v", evt.Payload)
	}
	if a.IPAddress != "93.184.216.34" || a.ProcessName != "curl" {
		t.Fatalf("unexpected alert: %+v", a)
	}

	// The same window content must not re-emit on subsequent polls.
	select {
	case extra := <-detected:
		t.Fatalf("duplicate alert event: %+v", extra.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWindowWatcher_AbsentProcessIsNoOp(t *testing.T) {
	ws := &fakeWindowSystem{} // no windows at all
	events := bus.New(quietLogger())
	var scans atomic.Int32

	w := newTestWatcher(ws, &fakePermission{granted: true}, events)
	w.OnScan = func(found bool) {
		scans.Add(1)
		if found {
			t.Error("scan reported a find with no windows present")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	deadline := time.Now().Add(time.Second)
	for scans.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if scans.Load() < 3 {
		t.Fatal("polling did not continue across empty scans")
	}
}

func TestWindowWatcher_StopReturnsToIdle(t *testing.T) {
	ws := &fakeWindowSystem{}
	w := newTestWatcher(ws, &fakePermission{granted: true}, bus.New(quietLogger()))

	w.Start(context.Background())
	if !w.Monitoring() {
		t.Fatal("expected polling state")
	}
	w.Stop()
	if w.Monitoring() {
		t.Fatal("expected idle state after stop")
	}
}

// --- DismissalWatcher ---

func newTestDismissal(ws *fakeWindowSystem, inProgress *atomic.Bool, closed *atomic.Int32) *DismissalWatcher {
	return NewDismissalWatcher(DismissalConfig{
		Owner:       "LuLu",
		Grace:       time.Millisecond,
		Interval:    5 * time.Millisecond,
		ShrinkDelta: 100,
		MinWidth:    200,
		MinHeight:   150,
		Windows:     ws,
		InProgress:  func() bool { return inProgress.Load() },
		OnDismiss:   func() { closed.Add(1) },
		Logger:      quietLogger(),
	})
}

func TestDismissal_UnchangedWindowNeverCloses(t *testing.T) {
	ws := &fakeWindowSystem{}
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 600})

	var inProgress atomic.Bool
	inProgress.Store(true)
	var closed atomic.Int32

	d := newTestDismissal(ws, &inProgress, &closed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	time.Sleep(60 * time.Millisecond)
	if closed.Load() != 0 {
		t.Fatal("unchanged window must not trigger dismissal")
	}
}

func TestDismissal_WindowGoneAndAnalysisDone_ClosesExactlyOnce(t *testing.T) {
	ws := &fakeWindowSystem{}
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 600})

	var inProgress atomic.Bool
	var closed atomic.Int32

	d := newTestDismissal(ws, &inProgress, &closed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	time.Sleep(20 * time.Millisecond) // let the baseline settle
	ws.setWindows()                   // alert window disappears

	deadline := time.Now().Add(time.Second)
	for closed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if closed.Load() != 1 {
		t.Fatalf("close effect fired %d times, want 1", closed.Load())
	}

	// Further polls cannot re-fire.
	time.Sleep(30 * time.Millisecond)
	if closed.Load() != 1 {
		t.Fatalf("close effect re-fired: %d", closed.Load())
	}
}

func TestDismissal_WaitsForAnalysisToFinish(t *testing.T) {
	ws := &fakeWindowSystem{}
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 600})

	var inProgress atomic.Bool
	inProgress.Store(true)
	var closed atomic.Int32

	d := newTestDismissal(ws, &inProgress, &closed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	ws.setWindows() // dismissed while analysis still runs

	time.Sleep(40 * time.Millisecond)
	if closed.Load() != 0 {
		t.Fatal("dismissal must not act while analysis is in progress")
	}

	inProgress.Store(false)
	deadline := time.Now().Add(time.Second)
	for closed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if closed.Load() != 1 {
		t.Fatalf("close effect fired %d times after analysis finished, want 1", closed.Load())
	}
}

func TestDismissal_ShrunkWindowCloses(t *testing.T) {
	ws := &fakeWindowSystem{}
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 600})

	var inProgress atomic.Bool
	var closed atomic.Int32

	d := newTestDismissal(ws, &inProgress, &closed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	// Height collapses past the delta; width unchanged.
	ws.setWindows(domain.Window{Handle: "w1", Title: "LuLu Alert", Width: 800, Height: 420})

	deadline := time.Now().Add(time.Second)
	for closed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if closed.Load() != 1 {
		t.Fatalf("shrunk window: close fired %d times, want 1", closed.Load())
	}
}
