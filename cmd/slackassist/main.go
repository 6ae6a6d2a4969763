package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"slackassist/internal/assistant"
	"slackassist/internal/config"
	"slackassist/internal/dedup"
	"slackassist/internal/domain"
	"slackassist/internal/intake"
	"slackassist/internal/notify"
	"slackassist/internal/route"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "slackassist",
		Short: "slackassist: Slack-to-assistant relay",
		Long:  "slackassist relays Slack messages to an OpenAI assistant and posts each reply back into the originating thread.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.slackassist/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(wizardCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", workspace)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay (Slack intake + assistant runs)",
		Long:  "Starts the configured Slack intake (HTTP events or Socket Mode) and relays messages to the assistant. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// applyLogLevel rebuilds the process logger at the configured level.
func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func openStore(cfg *config.Config) (domain.EventStore, error) {
	path := config.StatePath(cfg)
	if cfg.Dedup.Backend == "sqlite" {
		return dedup.NewSQLiteStore(path, logger)
	}
	return dedup.NewFileStore(path, logger), nil
}

func buildSinks(cfg *config.Config) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Escalation.Telegram.Enabled {
		chatID, _ := strconv.ParseInt(cfg.Escalation.Telegram.ChatID, 10, 64)
		sink, err := notify.NewTelegramSink(cfg.Escalation.Telegram.Token, chatID, logger)
		if err != nil {
			logger.Warn("telegram escalation sink unavailable", "err", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Escalation.Discord.Enabled {
		sink, err := notify.NewDiscordSink(cfg.Escalation.Discord.Token, cfg.Escalation.Discord.ChannelID, logger)
		if err != nil {
			logger.Warn("discord escalation sink unavailable", "err", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	applyLogLevel(cfg.General.LogLevel)

	if cfg.Slack.BotToken == "" {
		return fmt.Errorf("slack.botToken is required (run 'slackassist wizard' to configure)")
	}
	if cfg.Assistant.APIKey == "" || cfg.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant.apiKey and assistant.assistantId are required")
	}
	if cfg.Slack.Mode == "socket" && cfg.Slack.AppToken == "" {
		return fmt.Errorf("slack.appToken is required in socket mode")
	}

	// Ensure workspace exists
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}
	defer store.Close()

	httpClient := assistant.SharedHTTPClient(time.Duration(cfg.Assistant.RequestTimeoutSeconds) * time.Second)

	runs := assistant.New(assistant.ClientConfig{
		APIKey:       cfg.Assistant.APIKey,
		BaseURL:      cfg.Assistant.BaseURL,
		AssistantID:  cfg.Assistant.AssistantID,
		PollInterval: time.Duration(cfg.Assistant.PollIntervalSeconds) * time.Second,
		MaxWait:      time.Duration(cfg.Assistant.MaxWaitSeconds) * time.Second,
		HTTPClient:   httpClient,
		Logger:       logger,
	})

	routes, err := route.Load(cfg.Routes.File, logger)
	if err != nil {
		return fmt.Errorf("route table: %w", err)
	}
	overrides := make(map[string]domain.RunClient)
	for _, rule := range routes.Rules {
		overrides[rule.Channel] = runs.WithAssistant(rule.Assistant)
	}

	apiOpts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if cfg.Slack.Mode == "socket" {
		apiOpts = append(apiOpts, slack.OptionAppLevelToken(cfg.Slack.AppToken))
	}
	api := slack.New(cfg.Slack.BotToken, apiOpts...)

	notifier := notify.NewSlack(notify.SlackConfig{
		API:            api,
		AdminMemberID:  cfg.Slack.AdminMemberID,
		PostsPerSecond: cfg.Notify.PostsPerSecond,
		Sinks:          buildSinks(cfg),
		Logger:         logger,
	})

	coord := intake.NewCoordinator(intake.CoordinatorConfig{
		Store:     store,
		Runs:      runs,
		Overrides: overrides,
		Notifier:  notifier,
		Logger:    logger,
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Slack.Mode == "socket" {
		sock := intake.NewSocketIntake(intake.SocketConfig{
			API:         api,
			Coordinator: coord,
			Logger:      logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sock.Start(ctx); err != nil {
				errCh <- fmt.Errorf("socket intake: %w", err)
			}
		}()
	}

	// The HTTP server always runs: it carries the events endpoint in events
	// mode and the health/metrics endpoints in both modes.
	srv := intake.NewServer(intake.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Path:          cfg.Server.Path,
		SigningSecret: cfg.Slack.SigningSecret,
		EnableEvents:  cfg.Slack.Mode == "events",
		EnableMetrics: cfg.Server.Metrics,
		Coordinator:   coord,
		Logger:        logger,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s, ok := store.(*dedup.SQLiteStore); ok && cfg.Dedup.RetentionDays > 0 {
		retention := time.Duration(cfg.Dedup.RetentionDays) * 24 * time.Hour
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.Prune(ctx, retention); err != nil {
						logger.Warn("claim prune failed", "err", err)
					}
				}
			}
		}()
	}

	logger.Info("slackassist started. Press Ctrl+C to stop.",
		"version", version, "mode", cfg.Slack.Mode, "dedup", cfg.Dedup.Backend)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop() // cancel the remaining goroutines
	}

	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}

	return runErr
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			store, err := openStore(cfg)
			if err != nil {
				logger.Info("dedup store", "backend", cfg.Dedup.Backend, "healthy", false, "err", err)
			} else {
				if n, err := store.Count(ctx); err != nil {
					logger.Info("dedup store", "backend", cfg.Dedup.Backend, "healthy", false, "err", err)
				} else {
					logger.Info("dedup store", "backend", cfg.Dedup.Backend, "claims", n)
				}
				store.Close()
			}

			if cfg.Slack.BotToken == "" {
				logger.Info("slack", "configured", false)
				return nil
			}
			api := slack.New(cfg.Slack.BotToken)
			resp, err := api.AuthTestContext(ctx)
			if err != nil {
				logger.Info("slack", "healthy", false, "err", err)
			} else {
				logger.Info("slack", "healthy", true, "team", resp.Team, "bot", resp.User)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. slack.mode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. slack.mode socket)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
