package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

type staticCredentials []string

func (s staticCredentials) Ordered() []string { return s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAlert() *domain.ConnectionAlert {
	return &domain.ConnectionAlert{
		ID:          "test-alert",
		ProcessName: "curl",
		ProcessPath: "/usr/bin/curl",
		IPAddress:   "93.184.216.34",
		Port:        "443",
		Protocol:    "TCP",
		RawTexts:    []string{"/usr/bin/curl", "93.184.216.34", "443 (TCP)"},
	}
}

// anthropicEnvelope wraps text in the relay's (Anthropic-shaped) response.
const anthropicEnvelope = `{"content":[{"type":"text","text":"{\"recommendation\":\"allow\",\"confidence\":0.8,\"summary\":\"routine\",\"details\":\"d\",\"risks\":[]}"}]}`

// newTestClient points relay-keyed credentials at the given test server.
func newTestClient(t *testing.T, serverURL string, creds ...string) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		Source:  staticCredentials(creds),
		Options: Options{RelayAPIBase: serverURL},
		Logger:  testLogger(),
	})
}

func TestAnalyze_NoCredential(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Analyze(context.Background(), testAlert())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if requests.Load() != 0 {
		t.Fatalf("expected zero HTTP attempts, got %d", requests.Load())
	}
}

func TestAnalyze_RotatesOn429ThenSucceeds(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(anthropicEnvelope))
	}))
	defer srv.Close()

	// Three candidates: success on the second must short-circuit the third.
	c := newTestClient(t, srv.URL, "sk-lulu-one", "sk-lulu-two", "sk-lulu-three")
	analysis, err := c.Analyze(context.Background(), testAlert())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Recommendation != domain.RecommendAllow {
		t.Errorf("Recommendation = %v", analysis.Recommendation)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected exactly 2 network attempts, got %d", got)
	}
}

func TestAnalyze_ExhaustionReturnsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "sk-lulu-only")
	_, err := c.Analyze(context.Background(), testAlert())

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if he.Status != http.StatusForbidden {
		t.Fatalf("Status = %d, want 403", he.Status)
	}
}

func TestAnalyze_AuthExhaustionDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "sk-lulu-a", "sk-lulu-b")
	_, err := c.Analyze(context.Background(), testAlert())
	if !IsAuthError(err) {
		t.Fatalf("expected auth-class terminal error, got %v", err)
	}
}

func TestAnalyze_NonRotatableStatusAbortsImmediately(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	// A second credential is available but must not be tried: a 400 is a
	// malformed request, not a credential problem.
	c := newTestClient(t, srv.URL, "sk-lulu-a", "sk-lulu-b")
	_, err := c.Analyze(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", got)
	}
}

func TestAnalyze_DuplicateCredentialsNotRetried(t *testing.T) {
	// The source deduplicates; a client handed a deduplicated list of one
	// failing credential makes exactly one attempt.
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "sk-lulu-same")
	if _, err := c.Analyze(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error")
	}
	if requests.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", requests.Load())
	}
}

func TestAnalyze_InProgressFlagClearedOnAllPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var transitions []bool
	c := NewClient(ClientConfig{
		Source:     staticCredentials{"sk-lulu-a"},
		Options:    Options{RelayAPIBase: srv.URL},
		Logger:     testLogger(),
		OnProgress: func(v bool) { transitions = append(transitions, v) },
	})

	if _, err := c.Analyze(context.Background(), testAlert()); err == nil {
		t.Fatal("expected error")
	}
	if c.InProgress() {
		t.Fatal("in-progress flag must be false after an error exit")
	}
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("transitions = %v, want [true false]", transitions)
	}

	// Empty-credential exit never sets the flag.
	c2 := newTestClient(t, srv.URL)
	c2.Analyze(context.Background(), testAlert())
	if c2.InProgress() {
		t.Fatal("in-progress flag leaked on ErrNoCredential path")
	}
}

func TestAnalyze_SuccessCarriesSourceAlertAndProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(anthropicEnvelope))
	}))
	defer srv.Close()

	alert := testAlert()
	c := newTestClient(t, srv.URL, "sk-lulu-key")
	analysis, err := c.Analyze(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.SourceAlert != alert {
		t.Error("SourceAlert back-reference missing")
	}
	if analysis.Provider != string(ProviderRelay) {
		t.Errorf("Provider = %q", analysis.Provider)
	}
	if analysis.Summary == "" {
		t.Error("summary must never be empty")
	}
}

func TestAnalyze_PromptStableAcrossCandidates(t *testing.T) {
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		bodies = append(bodies, buf)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(anthropicEnvelope))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "sk-lulu-a", "sk-lulu-b")
	if _, err := c.Analyze(context.Background(), testAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 request bodies, got %d", len(bodies))
	}
	if string(bodies[0]) != string(bodies[1]) {
		t.Fatal("retry must reuse the identical prompt payload")
	}
}
