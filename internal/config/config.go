// Package config loads, validates and persists the companion's JSON
// configuration. Values support ${VAR} and ${VAR:-default} environment
// substitution so secrets never need to live in the file itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Watcher   WatcherConfig   `json:"watcher"`
	Dismissal DismissalConfig `json:"dismissal"`
	Analysis  AnalysisConfig  `json:"analysis"`
	History   HistoryConfig   `json:"history"`
	Server    ServerConfig    `json:"server"`
	Notify    NotifyConfig    `json:"notify"`
	Autopilot AutopilotConfig `json:"autopilot"`
	Helper    HelperConfig    `json:"helper"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// WatcherConfig controls alert window polling.
type WatcherConfig struct {
	Owner       string `json:"owner"`       // process name owning the alert windows
	TitleMarker string `json:"titleMarker"` // substring identifying an alert window
	IntervalMs  int    `json:"intervalMs"`
	MinRawTexts int    `json:"minRawTexts"`
}

// DismissalConfig controls how user dismissal of the alert window is detected.
type DismissalConfig struct {
	GraceSeconds float64 `json:"graceSeconds"`
	PollSeconds  float64 `json:"pollSeconds"`
	ShrinkDelta  float64 `json:"shrinkDelta"`
	MinWidth     float64 `json:"minWidth"`
	MinHeight    float64 `json:"minHeight"`
}

// AnalysisConfig controls the AI analysis client.
type AnalysisConfig struct {
	RelayAPIBase      string            `json:"relayApiBase,omitempty"`
	Models            map[string]string `json:"models,omitempty"` // provider name -> model override
	MaxTokens         int               `json:"maxTokens"`
	TimeoutSeconds    int               `json:"timeoutSeconds"`
	KnownServicesPath string            `json:"knownServicesPath,omitempty"`
}

type HistoryConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"dbPath"`
	MaxEntries int    `json:"maxEntries"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	ChatID    string         `json:"chatId"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// AutopilotConfig controls automatic clicking of the alert window. Off by
// default; the analysis is advisory unless the operator opts in.
type AutopilotConfig struct {
	Enabled       bool    `json:"enabled"`
	Mode          string  `json:"mode"` // "block-only" | "follow"
	MinConfidence float64 `json:"minConfidence"`
	Duration      string  `json:"duration"` // "always" | "process" | "none"
}

type HelperConfig struct {
	Path           string `json:"path,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.lulu-companion).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lulu-companion"
	}
	return filepath.Join(home, ".lulu-companion")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Helper.Path = ExpandPath(cfg.Helper.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Watcher.Owner == "" {
		errs = append(errs, "watcher.owner must not be empty")
	}
	if cfg.Watcher.IntervalMs < 100 {
		errs = append(errs, "watcher.intervalMs must be >= 100")
	}
	if cfg.Watcher.MinRawTexts < 1 {
		errs = append(errs, "watcher.minRawTexts must be >= 1")
	}

	if cfg.Dismissal.GraceSeconds < 0 || cfg.Dismissal.PollSeconds <= 0 {
		errs = append(errs, "dismissal.graceSeconds must be >= 0 and dismissal.pollSeconds > 0")
	}
	if cfg.Dismissal.ShrinkDelta <= 0 {
		errs = append(errs, "dismissal.shrinkDelta must be > 0")
	}

	if cfg.Analysis.MaxTokens < 1 {
		errs = append(errs, "analysis.maxTokens must be >= 1")
	}
	if cfg.Analysis.TimeoutSeconds < 1 {
		errs = append(errs, "analysis.timeoutSeconds must be >= 1")
	}

	if cfg.History.Enabled && cfg.History.MaxEntries < 1 {
		errs = append(errs, "history.maxEntries must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	switch cfg.Autopilot.Mode {
	case "", "block-only", "follow":
	default:
		errs = append(errs, "autopilot.mode must be one of: block-only, follow")
	}
	if cfg.Autopilot.MinConfidence < 0 || cfg.Autopilot.MinConfidence > 1 {
		errs = append(errs, "autopilot.minConfidence must be between 0 and 1")
	}
	switch cfg.Autopilot.Duration {
	case "", "always", "process", "none":
	default:
		errs = append(errs, "autopilot.duration must be one of: always, process, none")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram is enabled")
		}
		if cfg.Notify.Telegram.ChatID == "" {
			errs = append(errs, "notify.telegram.chatId is required when telegram is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
