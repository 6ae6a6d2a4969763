package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slackassist/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: workspace → Slack → assistant → save config",
		Long:  "Guides you through workspace path, Slack credentials and intake mode, assistant credentials, and dedup backend. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Workspace
	fmt.Println("\n--- Step 1: Workspace ---")
	workspace := cfg.General.Workspace
	if workspace == "" {
		workspace = "~/.slackassist/workspace"
	}
	fmt.Fprintf(os.Stdout, "Directory for bot data (dedup state, etc.)")
	ws, err := prompt(workspace)
	if err != nil {
		return err
	}
	if ws != "" {
		cfg.General.Workspace = ws
	}
	cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Using workspace: %s\n", cfg.General.Workspace)

	// Step 2: Slack
	fmt.Println("\n--- Step 2: Slack ---")
	fmt.Println("  1) events — Slack posts events to an HTTP endpoint (needs a public URL)")
	fmt.Println("  2) socket — the bot connects out over Socket Mode (needs an app token)")
	fmt.Fprint(os.Stdout, "Choose intake mode (1-2)")
	defMode := "1"
	if cfg.Slack.Mode == "socket" {
		defMode = "2"
	}
	choice, err := prompt(defMode)
	if err != nil {
		return err
	}
	if choice == "2" {
		cfg.Slack.Mode = "socket"
	} else {
		cfg.Slack.Mode = "events"
	}

	fmt.Fprint(os.Stdout, "Bot token (xoxb-..., or env var like ${SLACK_BOT_TOKEN})")
	tok, err := prompt(cfg.Slack.BotToken)
	if err != nil {
		return err
	}
	if tok != "" {
		cfg.Slack.BotToken = tok
	}

	if cfg.Slack.Mode == "socket" {
		fmt.Fprint(os.Stdout, "App-level token (xapp-...)")
		app, err := prompt(cfg.Slack.AppToken)
		if err != nil {
			return err
		}
		if app != "" {
			cfg.Slack.AppToken = app
		}
	} else {
		fmt.Fprint(os.Stdout, "Signing secret (recommended; blank disables verification)")
		sec, err := prompt(cfg.Slack.SigningSecret)
		if err != nil {
			return err
		}
		if sec != "" {
			cfg.Slack.SigningSecret = sec
		}
	}

	fmt.Fprint(os.Stdout, "Admin member ID to mention on failures (e.g. U0123ABCD, blank to skip)")
	admin, err := prompt(cfg.Slack.AdminMemberID)
	if err != nil {
		return err
	}
	if admin != "" {
		cfg.Slack.AdminMemberID = admin
	}
	fmt.Fprintf(os.Stdout, "  Using mode: %s\n", cfg.Slack.Mode)

	// Step 3: Assistant
	fmt.Println("\n--- Step 3: Assistant ---")
	fmt.Fprint(os.Stdout, "API key: paste key or env var (e.g. ${OPENAI_API_KEY})")
	defKey := cfg.Assistant.APIKey
	if defKey == "" {
		defKey = "${OPENAI_API_KEY}"
	}
	key, err := prompt(defKey)
	if err != nil {
		return err
	}
	if key != "" {
		cfg.Assistant.APIKey = key
	}

	fmt.Fprint(os.Stdout, "Assistant ID (asst_...)")
	asst, err := prompt(cfg.Assistant.AssistantID)
	if err != nil {
		return err
	}
	if asst != "" {
		cfg.Assistant.AssistantID = asst
	}

	fmt.Fprint(os.Stdout, "API base URL")
	base, err := prompt(cfg.Assistant.BaseURL)
	if err != nil {
		return err
	}
	if base != "" {
		cfg.Assistant.BaseURL = base
	}

	// Step 4: Dedup backend
	fmt.Println("\n--- Step 4: Dedup state ---")
	fmt.Println("  1) file   — JSON file, simplest")
	fmt.Println("  2) sqlite — database with optional retention pruning")
	fmt.Fprint(os.Stdout, "Choose backend (1-2)")
	defBackend := "1"
	if cfg.Dedup.Backend == "sqlite" {
		defBackend = "2"
	}
	bChoice, err := prompt(defBackend)
	if err != nil {
		return err
	}
	if bChoice == "2" {
		cfg.Dedup.Backend = "sqlite"
		fmt.Fprint(os.Stdout, "Days to keep claims (0 keeps them forever)")
		days, err := prompt(fmt.Sprint(cfg.Dedup.RetentionDays))
		if err != nil {
			return err
		}
		var n int
		if cnt, _ := fmt.Sscanf(days, "%d", &n); cnt == 1 && n >= 0 {
			cfg.Dedup.RetentionDays = n
		}
	} else {
		cfg.Dedup.Backend = "file"
	}
	fmt.Fprintf(os.Stdout, "  Using backend: %s\n", cfg.Dedup.Backend)

	// Save
	cfgDir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'slackassist doctor' to check the setup, then 'slackassist serve'.")
	return nil
}
