package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testBus() *EventBus {
	return New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestEmit_SpecificAndWildcardHandlers(t *testing.T) {
	eb := testBus()
	var specific, wildcard atomic.Int32

	eb.On(EventAlertDetected, func(Event) { specific.Add(1) })
	eb.On("*", func(Event) { wildcard.Add(1) })

	eb.Emit(Event{Type: EventAlertDetected})
	eb.Emit(Event{Type: EventAnalysisCompleted})

	if specific.Load() != 1 {
		t.Errorf("specific handler calls = %d, want 1", specific.Load())
	}
	if wildcard.Load() != 2 {
		t.Errorf("wildcard handler calls = %d, want 2", wildcard.Load())
	}
}

func TestOff_RemovesHandler(t *testing.T) {
	eb := testBus()
	var calls atomic.Int32
	id := eb.On(EventAlertDetected, func(Event) { calls.Add(1) })

	eb.Emit(Event{Type: EventAlertDetected})
	eb.Off(EventAlertDetected, id)
	eb.Emit(Event{Type: EventAlertDetected})

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestEmit_HandlerPanicIsolated(t *testing.T) {
	eb := testBus()
	var after atomic.Bool

	eb.On(EventAlertDetected, func(Event) { panic("boom") })
	eb.On(EventAlertDetected, func(Event) { after.Store(true) })

	eb.Emit(Event{Type: EventAlertDetected})

	if !after.Load() {
		t.Fatal("handler after a panicking one was not called")
	}
}

func TestReplay_FiltersByTypeAndTime(t *testing.T) {
	eb := testBus()
	cutoff := time.Now().Add(-time.Minute)

	eb.Emit(Event{Type: EventAlertDetected})
	eb.Emit(Event{Type: EventAnalysisCompleted})
	eb.Emit(Event{Type: EventAlertDetected})

	if got := len(eb.Replay(EventAlertDetected, cutoff)); got != 2 {
		t.Errorf("typed replay = %d events, want 2", got)
	}
	if got := len(eb.Replay("*", cutoff)); got != 3 {
		t.Errorf("wildcard replay = %d events, want 3", got)
	}
	if got := len(eb.Replay("*", time.Now().Add(time.Hour))); got != 0 {
		t.Errorf("future replay = %d events, want 0", got)
	}
}
