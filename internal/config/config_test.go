package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watcher.Owner != "LuLu" || cfg.Watcher.IntervalMs != 500 {
		t.Fatalf("watcher defaults not applied: %+v", cfg.Watcher)
	}
	if cfg.Dismissal.ShrinkDelta != 100 {
		t.Fatalf("dismissal defaults not applied: %+v", cfg.Dismissal)
	}
	if cfg.Autopilot.Enabled {
		t.Fatal("autopilot must be off by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"watcher": {"owner": "LuLu", "intervalMs": 1000},
		"analysis": {"maxTokens": 2048, "timeoutSeconds": 30}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watcher.IntervalMs != 1000 {
		t.Fatalf("intervalMs = %d", cfg.Watcher.IntervalMs)
	}
	if cfg.Analysis.MaxTokens != 2048 {
		t.Fatalf("maxTokens = %d", cfg.Analysis.MaxTokens)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("COMPANION_TEST_TOKEN", "secret-token")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "${COMPANION_TEST_TOKEN}", "secret-token"},
		{"unset with default", "${COMPANION_TEST_UNSET:-fallback}", "fallback"},
		{"set ignores default", "${COMPANION_TEST_TOKEN:-fallback}", "secret-token"},
		{"unset without default kept literal", "${COMPANION_TEST_UNSET}", "${COMPANION_TEST_UNSET}"},
		{"plain text untouched", "no vars here", "no vars here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.input); got != tt.want {
				t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadExpandsEnvInFile(t *testing.T) {
	t.Setenv("COMPANION_TG_TOKEN", "12345:abc")
	path := writeConfig(t, `{
		"notify": {"telegram": {"enabled": true, "token": "${COMPANION_TG_TOKEN}", "chatId": "99"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notify.Telegram.Token != "12345:abc" {
		t.Fatalf("token = %q", cfg.Notify.Telegram.Token)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"fast interval", func(c *Config) { c.Watcher.IntervalMs = 50 }, "intervalMs"},
		{"empty owner", func(c *Config) { c.Watcher.Owner = "" }, "owner"},
		{"zero shrink delta", func(c *Config) { c.Dismissal.ShrinkDelta = 0 }, "shrinkDelta"},
		{"bad port", func(c *Config) { c.Server.Port = 99999 }, "port"},
		{"bad autopilot mode", func(c *Config) { c.Autopilot.Mode = "yolo" }, "autopilot.mode"},
		{"confidence out of range", func(c *Config) { c.Autopilot.MinConfidence = 1.5 }, "minConfidence"},
		{"telegram without token", func(c *Config) {
			c.Notify.Telegram.Enabled = true
			c.Notify.Telegram.ChatID = "1"
		}, "token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestFlexStringListAcceptsNumbers(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`["123", 456]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f) != 2 || f[0] != "123" || f[1] != "456" {
		t.Fatalf("got %v", f)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Defaults()
	cfg.Watcher.IntervalMs = 750
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Watcher.IntervalMs != 750 {
		t.Fatalf("round trip lost value: %d", loaded.Watcher.IntervalMs)
	}
}
