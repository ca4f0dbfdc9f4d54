package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/alert"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/bus"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const defaultPollInterval = 500 * time.Millisecond

// WindowWatcher polls for the target application's alert window and emits an
// event when a new distinct alert appears. States are Idle and Polling; Start
// moves to Polling (gated on the permission collaborator) and Stop back to
// Idle. Scan ticks are serialized by the single polling goroutine, so a slow
// scan is never overlapped by the next tick.
type WindowWatcher struct {
	owner      string
	marker     string
	interval   time.Duration
	windows    domain.WindowSystem
	permission domain.PermissionChecker
	extractor  *alert.Extractor
	events     *bus.EventBus
	logger     *slog.Logger

	// OnScan, when set, observes every completed scan cycle.
	OnScan func(found bool)

	monitoring atomic.Bool
	mu         sync.Mutex
	cancel     context.CancelFunc
}

// WindowConfig configures a WindowWatcher.
type WindowConfig struct {
	Owner      string // target process name
	Marker     string // alert window title marker
	Interval   time.Duration
	Windows    domain.WindowSystem
	Permission domain.PermissionChecker
	Extractor  *alert.Extractor
	Events     *bus.EventBus
	Logger     *slog.Logger
}

func NewWindowWatcher(cfg WindowConfig) *WindowWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WindowWatcher{
		owner:      cfg.Owner,
		marker:     cfg.Marker,
		interval:   cfg.Interval,
		windows:    cfg.Windows,
		permission: cfg.Permission,
		extractor:  cfg.Extractor,
		events:     cfg.Events,
		logger:     cfg.Logger,
	}
}

// Monitoring reports whether the watcher is in the Polling state.
func (w *WindowWatcher) Monitoring() bool { return w.monitoring.Load() }

// Start begins polling. Without the automation permission it logs and stays
// Idle; no error is propagated. Calling Start while already Polling is a
// no-op.
func (w *WindowWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.monitoring.Load() {
		return
	}
	if w.permission != nil && !w.permission.CheckPermission(ctx) {
		w.logger.Warn("automation permission not granted, monitoring not started", "owner", w.owner)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.monitoring.Store(true)

	go w.run(runCtx)
	w.logger.Info("window monitoring started", "owner", w.owner, "interval", w.interval)
}

// Stop returns the watcher to Idle.
func (w *WindowWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.monitoring.Store(false)
}

func (w *WindowWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.monitoring.Store(false)
			w.logger.Info("window monitoring stopped", "owner", w.owner)
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan performs one poll cycle. An absent process or a transient enumeration
// failure is a no-op, not an error; eventual consistency across polls is the
// only guarantee.
func (w *WindowWatcher) scan(ctx context.Context) {
	found := false
	defer func() {
		if w.OnScan != nil {
			w.OnScan(found)
		}
	}()

	windows, err := w.windows.ListWindows(ctx, w.owner)
	if err != nil {
		w.logger.Debug("window enumeration failed", "error", err)
		return
	}

	var target *domain.Window
	for i := range windows {
		if strings.Contains(windows[i].Title, w.marker) {
			target = &windows[i]
			break
		}
	}
	if target == nil {
		return
	}

	root, err := w.windows.ElementTree(ctx, target.Handle)
	if err != nil {
		w.logger.Debug("element tree read failed", "window", target.Title, "error", err)
		return
	}

	texts := CollectTexts(root)
	newAlert := w.extractor.Observe(texts)
	if newAlert == nil {
		return
	}

	found = true
	w.logger.Info("new alert detected",
		"process", newAlert.ProcessName,
		"ip", newAlert.IPAddress,
		"port", newAlert.Port,
		"protocol", newAlert.Protocol,
	)
	w.events.Emit(bus.Event{
		Type:    bus.EventAlertDetected,
		Source:  "watcher",
		Payload: map[string]any{"alert": newAlert},
	})
}
