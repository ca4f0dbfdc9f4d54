package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxTokens      = 1024
)

// CredentialSource yields the ordered candidate credential list. It is
// consulted fresh on every Analyze call so key additions and removals take
// effect immediately.
type CredentialSource interface {
	Ordered() []string
}

// Client obtains a risk recommendation for a connection alert from one of
// several interchangeable completion providers, trying credentials in order.
type Client struct {
	source     CredentialSource
	opts       Options
	hints      []KnownService
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	inProgress atomic.Bool
	// onProgress, when set, observes every in-progress transition.
	onProgress func(bool)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Source     CredentialSource
	Options    Options
	Hints      []KnownService
	MaxTokens  int
	Timeout    time.Duration
	Logger     *slog.Logger
	OnProgress func(bool)
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		source:     cfg.Source,
		opts:       cfg.Options,
		hints:      cfg.Hints,
		maxTokens:  cfg.MaxTokens,
		timeout:    cfg.Timeout,
		httpClient: newHTTPClient(cfg.Timeout),
		logger:     cfg.Logger,
		onProgress: cfg.OnProgress,
	}
}

// InProgress reports whether an Analyze call is currently running. The flag
// is true for exactly the duration of one call, including all error paths.
func (c *Client) InProgress() bool { return c.inProgress.Load() }

func (c *Client) setProgress(v bool) {
	c.inProgress.Store(v)
	if c.onProgress != nil {
		c.onProgress(v)
	}
}

// Analyze builds the advisory prompt once and tries each candidate credential
// in order until one succeeds. Credential-specific failures (429, 5xx, 401,
// 403) advance to the next candidate; any other failure aborts immediately
// since retrying with a different credential cannot help. With no credentials
// at all it fails with ErrNoCredential before any network attempt.
func (c *Client) Analyze(ctx context.Context, alert *domain.ConnectionAlert) (*domain.AIAnalysis, error) {
	credentials := c.source.Ordered()
	if len(credentials) == 0 {
		return nil, ErrNoCredential
	}

	c.setProgress(true)
	defer c.setProgress(false)

	prompt := buildPrompt(alert, c.hints)

	var lastErr error
	for i, credential := range credentials {
		p := Detect(credential)
		analysis, err := c.attempt(ctx, p, credential, prompt)
		if err == nil {
			analysis.SourceAlert = alert
			analysis.Provider = string(p)
			analysis.Model = c.opts.Model(p)
			if i > 0 {
				c.logger.Info("analysis used fallback credential", "provider", p, "attempt", i+1)
			}
			return analysis, nil
		}

		var he *HTTPError
		if errors.As(err, &he) && he.Rotatable() {
			c.logger.Warn("credential failed, trying next",
				"provider", p,
				"status", he.Status,
				"attempt", i+1,
			)
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// attempt performs one provider-specific request/response round trip.
func (c *Client) attempt(ctx context.Context, p Provider, credential, prompt string) (*domain.AIAnalysis, error) {
	s := Spec(p)
	model := c.opts.Model(p)

	payload, err := json.Marshal(s.body(credential, model, prompt, c.maxTokens))
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint(c.opts, model, credential), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", p, err)
	}
	s.headers(req.Header, credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: p, Status: resp.StatusCode, Body: string(data)}
	}

	text, err := s.extract(data)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text), nil
}
