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

// Config is the root configuration for slackassist.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Slack      SlackConfig      `json:"slack"`
	Assistant  AssistantConfig  `json:"assistant"`
	Dedup      DedupConfig      `json:"dedup"`
	Server     ServerConfig     `json:"server"`
	Notify     NotifyConfig     `json:"notify"`
	Escalation EscalationConfig `json:"escalation"`
	Routes     RoutesConfig     `json:"routes"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"`
}

type SlackConfig struct {
	BotToken      string `json:"botToken"`
	AppToken      string `json:"appToken"`      // required for socket mode
	SigningSecret string `json:"signingSecret"` // verifies events-mode request signatures
	AdminMemberID string `json:"adminMemberId"` // mentioned in-thread when a send fails
	Mode          string `json:"mode"`          // "events" | "socket"
}

type AssistantConfig struct {
	BaseURL               string `json:"baseUrl"`
	APIKey                string `json:"apiKey"`
	AssistantID           string `json:"assistantId"`
	PollIntervalSeconds   int    `json:"pollIntervalSeconds"`
	MaxWaitSeconds        int    `json:"maxWaitSeconds"` // 0 waits on a run indefinitely
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"`
}

type DedupConfig struct {
	Backend       string `json:"backend"`       // "file" | "sqlite"
	Path          string `json:"path"`          // default: derived from the workspace
	RetentionDays int    `json:"retentionDays"` // sqlite only; 0 keeps claims forever
}

type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Metrics bool   `json:"metrics"`
}

type NotifyConfig struct {
	PostsPerSecond float64 `json:"postsPerSecond"`
}

type EscalationConfig struct {
	Telegram TelegramEscalation `json:"telegram"`
	Discord  DiscordEscalation  `json:"discord"`
}

type TelegramEscalation struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chatId"` // numeric chat id, kept as string for env substitution
}

type DiscordEscalation struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
}

type RoutesConfig struct {
	File string `json:"file"` // YAML channel-to-assistant table; optional
}

// DefaultConfigDir returns the default config directory (~/.slackassist).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slackassist"
	}
	return filepath.Join(home, ".slackassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// StatePath returns the dedup state location, deriving a workspace-local
// default when dedup.path is unset.
func StatePath(cfg *Config) string {
	if cfg.Dedup.Path != "" {
		return cfg.Dedup.Path
	}
	name := "processed_events.json"
	if cfg.Dedup.Backend == "sqlite" {
		name = "slackassist.db"
	}
	return filepath.Join(cfg.General.Workspace, name)
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

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

	cfg.General.Workspace = expandPath(cfg.General.Workspace)
	cfg.Dedup.Path = expandPath(cfg.Dedup.Path)
	cfg.Routes.File = expandPath(cfg.Routes.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // Keep original if no env var and no default
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
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Slack.Mode {
	case "events", "socket":
		// valid
	default:
		errs = append(errs, "slack.mode must be one of: events, socket")
	}

	switch cfg.Dedup.Backend {
	case "file", "sqlite":
		// valid
	default:
		errs = append(errs, "dedup.backend must be one of: file, sqlite")
	}
	if cfg.Dedup.RetentionDays < 0 {
		errs = append(errs, "dedup.retentionDays must be >= 0")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Path != "" && !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}

	if cfg.Assistant.PollIntervalSeconds < 1 {
		errs = append(errs, "assistant.pollIntervalSeconds must be >= 1")
	}
	if cfg.Assistant.MaxWaitSeconds < 0 {
		errs = append(errs, "assistant.maxWaitSeconds must be >= 0")
	}
	if cfg.Assistant.RequestTimeoutSeconds < 1 {
		errs = append(errs, "assistant.requestTimeoutSeconds must be >= 1")
	}

	if cfg.Notify.PostsPerSecond <= 0 {
		errs = append(errs, "notify.postsPerSecond must be > 0")
	}

	if cfg.Escalation.Telegram.Enabled {
		if cfg.Escalation.Telegram.Token == "" {
			errs = append(errs, "escalation.telegram: token is required when enabled")
		}
		if _, err := strconv.ParseInt(cfg.Escalation.Telegram.ChatID, 10, 64); err != nil {
			errs = append(errs, "escalation.telegram: chatId must be a numeric chat id")
		}
	}
	if cfg.Escalation.Discord.Enabled {
		if cfg.Escalation.Discord.Token == "" {
			errs = append(errs, "escalation.discord: token is required when enabled")
		}
		if cfg.Escalation.Discord.ChannelID == "" {
			errs = append(errs, "escalation.discord: channelId is required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPath(path string) string {
	return ExpandPath(path)
}

// ExpandPath resolves ~/ to the user's home directory (used by wizard and Load).
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
