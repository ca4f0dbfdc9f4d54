package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Watcher: WatcherConfig{
			Owner:       "LuLu",
			TitleMarker: "Alert",
			IntervalMs:  500,
			MinRawTexts: 5,
		},
		Dismissal: DismissalConfig{
			GraceSeconds: 3,
			PollSeconds:  1.5,
			ShrinkDelta:  100,
			MinWidth:     200,
			MinHeight:    150,
		},
		Analysis: AnalysisConfig{
			MaxTokens:      1024,
			TimeoutSeconds: 30,
		},
		History: HistoryConfig{
			Enabled:    true,
			DBPath:     "~/.lulu-companion/history.db",
			MaxEntries: 200,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8780,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Autopilot: AutopilotConfig{
			Enabled:       false,
			Mode:          "block-only",
			MinConfidence: 0.8,
			Duration:      "process",
		},
		Helper: HelperConfig{
			TimeoutSeconds: 5,
		},
	}
}
