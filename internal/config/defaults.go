package config

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/.slackassist/workspace",
			LogLevel:  "info",
		},
		Slack: SlackConfig{
			Mode: "events",
		},
		Assistant: AssistantConfig{
			BaseURL:               "https://api.openai.com/v1",
			PollIntervalSeconds:   5,
			MaxWaitSeconds:        0,
			RequestTimeoutSeconds: 60,
		},
		Dedup: DedupConfig{
			Backend:       "file",
			RetentionDays: 0,
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    3000,
			Path:    "/slack/events",
			Metrics: false,
		},
		Notify: NotifyConfig{
			PostsPerSecond: 1,
		},
		Escalation: EscalationConfig{},
		Routes:     RoutesConfig{},
	}
}
