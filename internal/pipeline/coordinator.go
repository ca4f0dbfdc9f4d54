// Package pipeline coordinates the stages that follow a detected alert:
// enrichment, AI analysis, history persistence and notification. A newer
// alert supersedes any in-flight run; a superseded run's results are dropped
// before commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/bus"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/metrics"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/provider"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/watcher"
)

// Analyzer is the slice of the provider client the coordinator uses.
type Analyzer interface {
	Analyze(ctx context.Context, alert *domain.ConnectionAlert) (*domain.AIAnalysis, error)
	InProgress() bool
}

// HistoryAppender persists completed analyses.
type HistoryAppender interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
}

// Notifier pushes a completed analysis to an external channel. Optional.
type Notifier interface {
	NotifyAnalysis(ctx context.Context, analysis *domain.AIAnalysis) error
}

// Coordinator subscribes to detected alerts and drives each one through the
// pipeline. It is safe for the watcher to deliver a new alert while a prior
// one is still being analyzed.
type Coordinator struct {
	events   *bus.EventBus
	enricher domain.Enricher
	analyzer Analyzer
	history  HistoryAppender
	notifier Notifier
	logger   *slog.Logger

	dismissalTemplate watcher.DismissalConfig

	// generation increments per detected alert; a run commits only if it is
	// still the latest generation when analysis returns.
	generation atomic.Uint64

	mu        sync.Mutex
	subID     string
	dismissal *watcher.DismissalWatcher
}

// Config configures a Coordinator.
type Config struct {
	Events   *bus.EventBus
	Enricher domain.Enricher
	Analyzer Analyzer
	History  HistoryAppender
	Notifier Notifier
	// Dismissal is the template for per-alert dismissal watchers. Its
	// InProgress and OnDismiss fields are set by the coordinator.
	Dismissal watcher.DismissalConfig
	Logger    *slog.Logger
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Events == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		events:            cfg.Events,
		enricher:          cfg.Enricher,
		analyzer:          cfg.Analyzer,
		history:           cfg.History,
		notifier:          cfg.Notifier,
		dismissalTemplate: cfg.Dismissal,
		logger:            cfg.Logger,
	}, nil
}

// Start subscribes to detected alerts. Cancel ctx to stop processing.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subID != "" {
		return
	}
	c.subID = c.events.On(bus.EventAlertDetected, func(e bus.Event) {
		alert, ok := e.Payload["alert"].(*domain.ConnectionAlert)
		if !ok || alert == nil {
			c.logger.Warn("alert event without alert payload", "source", e.Source)
			return
		}
		go c.process(ctx, alert)
	})
}

// Stop unsubscribes and halts the active dismissal watcher.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subID != "" {
		c.events.Off(bus.EventAlertDetected, c.subID)
		c.subID = ""
	}
	if c.dismissal != nil {
		c.dismissal.Stop()
		c.dismissal = nil
	}
}

func (c *Coordinator) process(ctx context.Context, alert *domain.ConnectionAlert) {
	gen := c.generation.Add(1)
	metrics.AlertsDetectedTotal.Inc()

	c.startDismissalWatch(ctx, alert)

	c.events.Emit(bus.Event{
		Type:    bus.EventAnalysisStarted,
		Source:  "pipeline",
		Payload: map[string]any{"alert": alert},
	})

	enriched := alert
	if c.enricher != nil {
		enriched = c.enricher.Enrich(ctx, alert)
	}

	metrics.AnalysisInProgress.Set(1)
	started := time.Now()
	analysis, err := c.analyzer.Analyze(ctx, enriched)
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	metrics.AnalysisInProgress.Set(0)

	if gen != c.generation.Load() {
		c.logger.Info("dropping superseded analysis", "process", alert.ProcessName)
		return
	}

	if err != nil {
		c.fail(alert, err)
		return
	}
	c.commit(ctx, enriched, analysis)
}

func (c *Coordinator) fail(alert *domain.ConnectionAlert, err error) {
	providerName := "unknown"
	var he *provider.HTTPError
	if errors.As(err, &he) {
		providerName = string(he.Provider)
	}
	metrics.AnalysisFailuresTotal.WithLabelValues(providerName).Inc()

	reason := "error"
	switch {
	case errors.Is(err, provider.ErrNoCredential):
		reason = "no_credential"
	case provider.IsAuthError(err):
		reason = "auth_exhausted"
	}
	c.logger.Error("analysis failed", "process", alert.ProcessName, "reason", reason, "error", err)

	c.events.Emit(bus.Event{
		Type:   bus.EventAnalysisFailed,
		Source: "pipeline",
		Payload: map[string]any{
			"alert":  alert,
			"reason": reason,
			"error":  err.Error(),
		},
	})
}

func (c *Coordinator) commit(ctx context.Context, alert *domain.ConnectionAlert, analysis *domain.AIAnalysis) {
	metrics.AnalysisRequestsTotal.WithLabelValues(analysis.Provider).Inc()

	if c.history != nil {
		entry := domain.HistoryEntry{
			Alert:     *alert,
			Analysis:  *analysis,
			Model:     analysis.Model,
			CreatedAt: time.Now(),
		}
		if err := c.history.Append(ctx, entry); err != nil {
			c.logger.Error("history append failed", "error", err)
		}
	}

	c.events.Emit(bus.Event{
		Type:   bus.EventAnalysisCompleted,
		Source: "pipeline",
		Payload: map[string]any{
			"alert":    alert,
			"analysis": analysis,
		},
	})

	if c.notifier != nil {
		if err := c.notifier.NotifyAnalysis(ctx, analysis); err != nil {
			c.logger.Warn("notification failed", "error", err)
		}
	}

	c.logger.Info("analysis complete",
		"process", alert.ProcessName,
		"recommendation", analysis.Recommendation,
		"provider", analysis.Provider)
}

// startDismissalWatch replaces the previous alert's dismissal watcher with a
// fresh one for this alert's window.
func (c *Coordinator) startDismissalWatch(ctx context.Context, alert *domain.ConnectionAlert) {
	if c.dismissalTemplate.Windows == nil {
		return
	}

	cfg := c.dismissalTemplate
	cfg.InProgress = c.analyzer.InProgress
	cfg.Logger = c.logger
	cfg.OnDismiss = func() {
		metrics.AlertsDismissedTotal.Inc()
		c.events.Emit(bus.Event{
			Type:    bus.EventAlertDismissed,
			Source:  "pipeline",
			Payload: map[string]any{"alert": alert},
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dismissal != nil {
		c.dismissal.Stop()
	}
	c.dismissal = watcher.NewDismissalWatcher(cfg)
	c.dismissal.Start(ctx)
}
