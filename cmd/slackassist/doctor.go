package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"slackassist/internal/config"
	"slackassist/internal/route"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your slackassist installation",
		Long: `Verifies that slackassist's configuration, credentials, dedup state and
workspace are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("slackassist Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'slackassist init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Workspace directory exists
			if cfg.General.Workspace != "" {
				if info, err := os.Stat(cfg.General.Workspace); err != nil {
					printWarn("Workspace", fmt.Sprintf("not found: %s (created on serve)", cfg.General.Workspace))
					warned++
				} else if !info.IsDir() {
					printFail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
					failed++
				} else {
					printPass("Workspace", cfg.General.Workspace)
					passed++
				}
			} else {
				printWarn("Workspace", "not configured (using current directory)")
				warned++
			}

			// 4. Slack credentials
			if cfg.Slack.BotToken == "" {
				printFail("Slack bot token", "slack.botToken not set")
				failed++
			} else {
				printPass("Slack bot token", "configured")
				passed++
			}
			if cfg.Slack.Mode == "socket" {
				if cfg.Slack.AppToken == "" {
					printFail("Slack app token", "required in socket mode")
					failed++
				} else {
					printPass("Slack app token", "configured")
					passed++
				}
			} else {
				if cfg.Slack.SigningSecret == "" {
					printWarn("Signing secret", "unset; event requests are not verified")
					warned++
				} else {
					printPass("Signing secret", "configured")
					passed++
				}
			}

			// 5. Assistant credentials
			if cfg.Assistant.APIKey == "" {
				printFail("Assistant API key", "assistant.apiKey not set")
				failed++
			} else {
				printPass("Assistant API key", "configured")
				passed++
			}
			if cfg.Assistant.AssistantID == "" {
				printFail("Assistant ID", "assistant.assistantId not set")
				failed++
			} else {
				printPass("Assistant ID", cfg.Assistant.AssistantID)
				passed++
			}

			// 6. Dedup state readable and writable
			statePath := config.StatePath(cfg)
			if cfg.Dedup.Backend == "sqlite" {
				if err := checkDatabase(statePath); err != nil {
					printFail("Dedup state", err.Error())
					failed++
				} else {
					printPass("Dedup state", statePath)
					passed++
				}
			} else {
				if err := checkStateFile(statePath); err != nil {
					printFail("Dedup state", err.Error())
					failed++
				} else {
					printPass("Dedup state", statePath)
					passed++
				}
			}

			// 7. Events port available
			if cfg.Slack.Mode == "events" {
				port := cfg.Server.Port
				if port == 0 {
					port = 3000
				}
				if err := checkPort(port); err != nil {
					printWarn("Events port", fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass("Events port", fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// 8. Route table parses
			if cfg.Routes.File != "" {
				if _, err := route.Load(cfg.Routes.File, logger); err != nil {
					printFail("Route table", err.Error())
					failed++
				} else {
					printPass("Route table", cfg.Routes.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running slackassist.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nslackassist should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! slackassist is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

// checkStateFile verifies the JSON claim file parses when present and that
// its directory is writable.
func checkStateFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create state directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil // created on first claim
	}
	if err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("corrupt claim file (will be reset on serve): %w", err)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
