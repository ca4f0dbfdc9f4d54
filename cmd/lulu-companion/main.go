package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/alert"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/bus"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/config"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/credential"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/enrich"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/history"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/metrics"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/notify"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/pipeline"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/provider"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/server"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/uibridge"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/watcher"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "lulu-companion",
		Short: "AI analysis companion for LuLu firewall alerts",
		Long:  "Watches LuLu connection alerts, enriches them with network context and asks an AI provider for an advisory allow/block recommendation.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.lulu-companion/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(addKeyCmd())
	root.AddCommand(removeKeyCmd())
	root.AddCommand(listKeysCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// setupLogger rebuilds the global logger per the configured level and
// optional log file.
func setupLogger(cfg *config.Config) error {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func credentialStorePath() string {
	return filepath.Join(config.DefaultConfigDir(), "credentials.json")
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Printf("Add an API key with: lulu-companion add-key <key>\n")
			return nil
		},
	}
}

func newAnalysisClient(cfg *config.Config, store *credential.FileStore) (*provider.Client, error) {
	hints, err := provider.LoadKnownServices(cfg.Analysis.KnownServicesPath)
	if err != nil {
		return nil, fmt.Errorf("known services: %w", err)
	}
	return provider.NewClient(provider.ClientConfig{
		Source: store,
		Options: provider.Options{
			RelayAPIBase: cfg.Analysis.RelayAPIBase,
			Models:       cfg.Analysis.Models,
		},
		Hints:     hints,
		MaxTokens: cfg.Analysis.MaxTokens,
		Timeout:   time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
		Logger:    logger,
	}), nil
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch for LuLu alerts and analyze them",
		Long:  "Starts the window watcher, the analysis pipeline, the local observation API and any enabled notification channels. Press Ctrl+C to stop.",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefaults()
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.New(logger)
	store := credential.NewFileStore(credentialStorePath())

	bridge := uibridge.New(uibridge.Config{
		HelperPath: cfg.Helper.Path,
		Timeout:    time.Duration(cfg.Helper.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})

	client, err := newAnalysisClient(cfg, store)
	if err != nil {
		return err
	}

	enricher := enrich.New(enrich.Config{Logger: logger})

	var historyStore *history.Store
	if cfg.History.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil {
			return fmt.Errorf("history directory: %w", err)
		}
		historyStore, err = history.NewStore(history.Config{
			DBPath:     cfg.History.DBPath,
			MaxEntries: cfg.History.MaxEntries,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer historyStore.Close()
	}

	var telegram *notify.Telegram
	if cfg.Notify.Telegram.Enabled {
		telegram, err = notify.NewTelegram(notify.TelegramConfig{
			Token:     cfg.Notify.Telegram.Token,
			ChatID:    cfg.Notify.Telegram.ChatID,
			AllowFrom: cfg.Notify.Telegram.AllowFrom,
			ParseMode: cfg.Notify.Telegram.ParseMode,
			Performer: bridge,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		go func() {
			if err := telegram.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
	}

	coordinator, err := pipeline.New(pipeline.Config{
		Events:   events,
		Enricher: enricher,
		Analyzer: client,
		History:  historyAppender(historyStore),
		Notifier: analysisNotifier(telegram),
		Dismissal: watcher.DismissalConfig{
			Owner:       cfg.Watcher.Owner,
			Grace:       time.Duration(cfg.Dismissal.GraceSeconds * float64(time.Second)),
			Interval:    time.Duration(cfg.Dismissal.PollSeconds * float64(time.Second)),
			ShrinkDelta: cfg.Dismissal.ShrinkDelta,
			MinWidth:    cfg.Dismissal.MinWidth,
			MinHeight:   cfg.Dismissal.MinHeight,
			Windows:     bridge,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	coordinator.Start(ctx)
	defer coordinator.Stop()

	if cfg.Autopilot.Enabled {
		startAutopilot(ctx, cfg.Autopilot, events, bridge)
		logger.Warn("autopilot enabled", "mode", cfg.Autopilot.Mode, "minConfidence", cfg.Autopilot.MinConfidence)
	}

	if !bridge.CheckPermission(ctx) {
		logger.Warn("accessibility permission not granted, requesting it")
		if err := bridge.RequestPermission(ctx); err != nil {
			logger.Warn("permission request failed", "err", err)
		}
	}

	windowWatcher := watcher.NewWindowWatcher(watcher.WindowConfig{
		Owner:      cfg.Watcher.Owner,
		Marker:     cfg.Watcher.TitleMarker,
		Interval:   time.Duration(cfg.Watcher.IntervalMs) * time.Millisecond,
		Windows:    bridge,
		Permission: bridge,
		Extractor:  alert.NewExtractor(alert.ExtractorConfig{MinRawTexts: cfg.Watcher.MinRawTexts, Logger: logger}),
		Events:     events,
		Logger:     logger,
	})
	windowWatcher.OnScan = func(found bool) { metrics.ScansTotal.Inc() }
	windowWatcher.Start(ctx)
	defer windowWatcher.Stop()

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Status:  &statusAdapter{watcher: windowWatcher, client: client},
			History: historySource(historyStore),
			Events:  events,
			Version: version,
			Logger:  logger,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("observation server error", "err", err)
			}
		}()
	}

	logger.Info("companion started", "owner", cfg.Watcher.Owner, "monitoring", windowWatcher.Monitoring())
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// historyAppender and historySource keep a typed nil from sneaking into the
// pipeline/server interfaces when history is disabled.
func historyAppender(s *history.Store) pipeline.HistoryAppender {
	if s == nil {
		return nil
	}
	return s
}

func historySource(s *history.Store) server.HistorySource {
	if s == nil {
		return nil
	}
	return s
}

func analysisNotifier(t *notify.Telegram) pipeline.Notifier {
	if t == nil {
		return nil
	}
	return t
}

type statusAdapter struct {
	watcher *watcher.WindowWatcher
	client  *provider.Client
}

func (s *statusAdapter) Monitoring() bool         { return s.watcher.Monitoring() }
func (s *statusAdapter) AnalysisInProgress() bool { return s.client.InProgress() }

// startAutopilot clicks through alerts according to completed analyses. The
// block-only mode acts only on high-confidence block verdicts; follow mode
// also confirms allows.
func startAutopilot(ctx context.Context, cfg config.AutopilotConfig, events *bus.EventBus, performer domain.ActionPerformer) {
	duration := domain.ActionDuration(cfg.Duration)
	if duration == "" {
		duration = domain.DurationProcessLifetime
	}

	events.On(bus.EventAnalysisCompleted, func(e bus.Event) {
		analysis, ok := e.Payload["analysis"].(*domain.AIAnalysis)
		if !ok || analysis == nil {
			return
		}
		if analysis.Confidence < cfg.MinConfidence {
			return
		}

		var kind domain.ActionKind
		switch analysis.Recommendation {
		case domain.RecommendBlock:
			kind = domain.ActionBlock
		case domain.RecommendAllow:
			if cfg.Mode != "follow" {
				return
			}
			kind = domain.ActionAllow
		default:
			return
		}

		clicked, err := performer.PerformAction(ctx, kind, duration)
		if err != nil {
			slog.Error("autopilot action failed", "action", kind, "err", err)
			return
		}
		if clicked {
			metrics.ActionsPerformedTotal.WithLabelValues(string(kind)).Inc()
			events.Emit(bus.Event{
				Type:   bus.EventActionPerformed,
				Source: "autopilot",
				Payload: map[string]any{
					"action":   string(kind),
					"analysis": analysis,
				},
			})
		}
	})
}

func analyzeCmd() *cobra.Command {
	var (
		process  string
		ip       string
		port     string
		protocol string
		procPath string
	)
	cmd := &cobra.Command{
		Use:   "analyze [raw-texts-file]",
		Short: "Analyze a single connection without the watcher",
		Long:  "Builds a connection alert either from a file of raw alert window strings (one per line, \"-\" for stdin) or from flags, enriches it and prints the AI analysis as JSON. Useful for testing credentials and prompt quality.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			if err := setupLogger(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := credential.NewFileStore(credentialStorePath())
			client, err := newAnalysisClient(cfg, store)
			if err != nil {
				return err
			}

			var a *domain.ConnectionAlert
			switch {
			case len(args) == 1:
				raw, err := readRawTexts(args[0])
				if err != nil {
					return err
				}
				a = alert.Extract(raw)
				if a.ProcessName == "" && a.IPAddress == "" {
					return fmt.Errorf("no process or IP recognized in the input")
				}
			case process != "" && ip != "":
				a = &domain.ConnectionAlert{
					ProcessName: process,
					ProcessPath: procPath,
					IPAddress:   ip,
					Port:        port,
					Protocol:    protocol,
					RawTexts:    []string{process, ip},
					DetectedAt:  time.Now(),
				}
			default:
				return fmt.Errorf("provide a raw-texts file (or -) or both --process and --ip")
			}

			enricher := enrich.New(enrich.Config{Logger: logger})
			enriched := enricher.Enrich(ctx, a)

			analysis, err := client.Analyze(ctx, enriched)
			if err != nil {
				return fmt.Errorf("analysis: %w", err)
			}
			out, _ := json.MarshalIndent(analysis, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&process, "process", "", "process name (required)")
	cmd.Flags().StringVar(&ip, "ip", "", "destination IP address (required)")
	cmd.Flags().StringVar(&port, "port", "", "destination port")
	cmd.Flags().StringVar(&protocol, "protocol", "TCP", "protocol (TCP or UDP)")
	cmd.Flags().StringVar(&procPath, "path", "", "process executable path")
	return cmd
}

// readRawTexts reads one raw alert string per line from a file or stdin.
func readRawTexts(path string) ([]string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read raw texts: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			loaded := err == nil
			if !loaded {
				cfg = config.Defaults()
			}
			fmt.Printf("Config:      %s (loaded: %v)\n", cfgPath, loaded)
			fmt.Printf("Watching:    %s windows matching %q every %dms\n",
				cfg.Watcher.Owner, cfg.Watcher.TitleMarker, cfg.Watcher.IntervalMs)
			fmt.Printf("History:     enabled=%v path=%s\n", cfg.History.Enabled, cfg.History.DBPath)
			fmt.Printf("Server:      enabled=%v addr=%s:%d\n", cfg.Server.Enabled, cfg.Server.Host, cfg.Server.Port)
			fmt.Printf("Telegram:    enabled=%v\n", cfg.Notify.Telegram.Enabled)
			fmt.Printf("Autopilot:   enabled=%v mode=%s\n", cfg.Autopilot.Enabled, cfg.Autopilot.Mode)

			store := credential.NewFileStore(credentialStorePath())
			ordered := store.Ordered()
			fmt.Printf("Credentials: %d available\n", len(ordered))
			for i, cred := range ordered {
				fmt.Printf("  %d. %s (%s)\n", i+1, credential.Mask(cred), provider.Detect(cred))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lulu-companion v%s\n", version)
		},
	}
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove the background service",
	}
	cmd.AddCommand(installDaemonCmd())
	cmd.AddCommand(uninstallDaemonCmd())
	return cmd
}
