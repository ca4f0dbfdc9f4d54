// Package uibridge talks to the native accessibility helper. The helper is a
// small platform binary that walks the target application's UI and emits
// JSON on stdout; this package wraps it behind the domain interfaces so the
// rest of the pipeline never touches os/exec.
package uibridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const (
	defaultHelperPath  = "lulu-companion-helper"
	defaultExecTimeout = 5 * time.Second
	maxHelperOutput    = 1 << 20
)

// Bridge implements domain.WindowSystem, domain.PermissionChecker, and
// domain.ActionPerformer over the helper binary.
type Bridge struct {
	helperPath string
	timeout    time.Duration
	logger     *slog.Logger

	// runHelper is swapped out in tests.
	runHelper func(ctx context.Context, args ...string) ([]byte, error)
}

// Config configures a Bridge.
type Config struct {
	HelperPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func New(cfg Config) *Bridge {
	if cfg.HelperPath == "" {
		cfg.HelperPath = defaultHelperPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExecTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bridge{
		helperPath: cfg.HelperPath,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
	b.runHelper = b.execHelper
	return b
}

func (b *Bridge) execHelper(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.helperPath, args...)
	out, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("helper %s timed out", args[0])
		}
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("helper %s: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("helper %s: %w", args[0], err)
	}
	if len(out) > maxHelperOutput {
		return nil, fmt.Errorf("helper %s: output exceeds %d bytes", args[0], maxHelperOutput)
	}
	return out, nil
}

type windowPayload struct {
	Handle string  `json:"handle"`
	Title  string  `json:"title"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ListWindows returns the on-screen windows belonging to owner.
func (b *Bridge) ListWindows(ctx context.Context, owner string) ([]domain.Window, error) {
	out, err := b.runHelper(ctx, "list-windows", "--owner", owner)
	if err != nil {
		return nil, err
	}
	var payload []windowPayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("decode window list: %w", err)
	}
	windows := make([]domain.Window, 0, len(payload))
	for _, w := range payload {
		windows = append(windows, domain.Window{
			Handle: w.Handle,
			Title:  w.Title,
			Width:  w.Width,
			Height: w.Height,
		})
	}
	return windows, nil
}

type elementPayload struct {
	Texts    []string         `json:"texts"`
	Children []elementPayload `json:"children"`
}

// element adapts the helper's JSON tree to domain.UIElement.
type element struct {
	payload elementPayload
}

func (e *element) Texts() []string { return e.payload.Texts }

func (e *element) Children() []domain.UIElement {
	children := make([]domain.UIElement, len(e.payload.Children))
	for i := range e.payload.Children {
		children[i] = &element{payload: e.payload.Children[i]}
	}
	return children
}

// ElementTree returns the accessibility tree rooted at the given window.
func (b *Bridge) ElementTree(ctx context.Context, handle string) (domain.UIElement, error) {
	out, err := b.runHelper(ctx, "element-tree", "--handle", handle)
	if err != nil {
		return nil, err
	}
	var payload elementPayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("decode element tree: %w", err)
	}
	return &element{payload: payload}, nil
}

type permissionPayload struct {
	Granted bool `json:"granted"`
}

// CheckPermission reports whether the accessibility permission is granted.
// Helper failure reads as not granted so startup degrades instead of crashing.
func (b *Bridge) CheckPermission(ctx context.Context) bool {
	out, err := b.runHelper(ctx, "check-permission")
	if err != nil {
		b.logger.Warn("permission check failed", "error", err)
		return false
	}
	var payload permissionPayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return false
	}
	return payload.Granted
}

// RequestPermission asks the OS to prompt the user for the permission.
func (b *Bridge) RequestPermission(ctx context.Context) error {
	if _, err := b.runHelper(ctx, "request-permission"); err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	return nil
}

type performPayload struct {
	Clicked bool `json:"clicked"`
}

// PerformAction clicks the requested button in the frontmost alert window.
// Returns whether a button was actually clicked.
func (b *Bridge) PerformAction(ctx context.Context, kind domain.ActionKind, duration domain.ActionDuration) (bool, error) {
	out, err := b.runHelper(ctx, "perform",
		"--action", string(kind),
		"--duration", string(duration))
	if err != nil {
		return false, fmt.Errorf("perform %s: %w", kind, err)
	}
	var payload performPayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return false, fmt.Errorf("decode perform result: %w", err)
	}
	return payload.Clicked, nil
}
