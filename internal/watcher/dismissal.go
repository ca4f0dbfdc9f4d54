package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const (
	defaultGracePeriod      = 3 * time.Second
	defaultDismissalPoll    = 1500 * time.Millisecond
	defaultShrinkDelta      = 100.0
	defaultMinWindowWidth   = 200.0
	defaultMinWindowHeight  = 150.0
)

// DismissalWatcher decides when transient advisory UI should close because
// the operator already resolved the underlying alert in the target
// application itself. After a grace period it polls the target window's
// geometry: the alert counts as dismissed when no qualifying window remains,
// or when the window shrank by more than the configured delta from its
// baseline size. The shrink threshold is a layout approximation, hence
// configuration rather than a constant.
//
// Dismissal is only acted on once analysis is no longer in progress; until
// then the watcher simply keeps polling. The close effect fires exactly once,
// after which the watcher stops itself and clears its baseline.
type DismissalWatcher struct {
	owner       string
	grace       time.Duration
	interval    time.Duration
	shrinkDelta float64
	minWidth    float64
	minHeight   float64
	windows     domain.WindowSystem
	inProgress  func() bool
	onDismiss   func()
	logger      *slog.Logger

	mu            sync.Mutex
	cancel        context.CancelFunc
	baselineW     float64
	baselineH     float64
	haveBaseline  bool
	fired         bool
}

// DismissalConfig configures a DismissalWatcher.
type DismissalConfig struct {
	Owner       string
	Grace       time.Duration
	Interval    time.Duration
	ShrinkDelta float64
	MinWidth    float64
	MinHeight   float64
	Windows     domain.WindowSystem
	// InProgress reports whether the analysis pipeline is still running.
	InProgress func() bool
	// OnDismiss is the close-transient-UI effect, invoked exactly once.
	OnDismiss func()
	Logger    *slog.Logger
}

func NewDismissalWatcher(cfg DismissalConfig) *DismissalWatcher {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGracePeriod
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultDismissalPoll
	}
	if cfg.ShrinkDelta <= 0 {
		cfg.ShrinkDelta = defaultShrinkDelta
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = defaultMinWindowWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = defaultMinWindowHeight
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DismissalWatcher{
		owner:       cfg.Owner,
		grace:       cfg.Grace,
		interval:    cfg.Interval,
		shrinkDelta: cfg.ShrinkDelta,
		minWidth:    cfg.MinWidth,
		minHeight:   cfg.MinHeight,
		windows:     cfg.Windows,
		inProgress:  cfg.InProgress,
		onDismiss:   cfg.OnDismiss,
		logger:      cfg.Logger,
	}
}

// Start begins watching after the grace period. Restarting an already
// running watcher resets it for a new alert.
func (d *DismissalWatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.haveBaseline = false
	d.fired = false
	d.mu.Unlock()

	go d.run(runCtx)
}

// Stop halts the watcher and clears its baseline.
func (d *DismissalWatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.haveBaseline = false
}

func (d *DismissalWatcher) run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.grace):
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.poll(ctx) {
				return
			}
		}
	}
}

// poll performs one geometry check and returns true when the watcher is done.
func (d *DismissalWatcher) poll(ctx context.Context) bool {
	windows, err := d.windows.ListWindows(ctx, d.owner)
	if err != nil {
		// Transient enumeration failure: no observation this cycle.
		d.logger.Debug("dismissal poll failed", "error", err)
		return false
	}

	var current *domain.Window
	for i := range windows {
		if windows[i].Width > d.minWidth && windows[i].Height > d.minHeight {
			current = &windows[i]
			break
		}
	}

	dismissed := false
	switch {
	case current == nil:
		dismissed = true
	default:
		d.mu.Lock()
		if !d.haveBaseline {
			d.baselineW = current.Width
			d.baselineH = current.Height
			d.haveBaseline = true
		} else if d.baselineW-current.Width > d.shrinkDelta || d.baselineH-current.Height > d.shrinkDelta {
			dismissed = true
		}
		d.mu.Unlock()
	}

	if !dismissed {
		return false
	}
	if d.inProgress != nil && d.inProgress() {
		// Analysis still running: remember implicitly by polling on.
		return false
	}

	d.mu.Lock()
	alreadyFired := d.fired
	d.fired = true
	d.haveBaseline = false
	d.mu.Unlock()

	if !alreadyFired && d.onDismiss != nil {
		d.logger.Info("alert dismissed by operator, closing transient UI")
		d.onDismiss()
	}
	return true
}
