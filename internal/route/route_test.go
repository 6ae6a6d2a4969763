package route

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func writeRoutes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("cannot write fixture: %v", err)
	}
	return path
}

func TestLoad_ValidTable(t *testing.T) {
	path := writeRoutes(t, `routes:
  - channel: C0SUPPORT
    assistant: asst_support
  - channel: C0SALES
    assistant: asst_sales
`)
	table, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(table.Rules))
	}
	if got := table.AssistantFor("C0SALES"); got != "asst_sales" {
		t.Fatalf("expected asst_sales, got %q", got)
	}
}

func TestLoad_MissingFileIsEmptyTable(t *testing.T) {
	table, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if len(table.Rules) != 0 {
		t.Fatalf("expected empty table, got %d rules", len(table.Rules))
	}
}

func TestLoad_EmptyPathIsEmptyTable(t *testing.T) {
	table, err := Load("", testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.AssistantFor("C1"); got != "" {
		t.Fatalf("expected default fallthrough, got %q", got)
	}
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	path := writeRoutes(t, "routes: [not: closed")
	if _, err := Load(path, testLogger()); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoad_IncompleteRuleFails(t *testing.T) {
	path := writeRoutes(t, `routes:
  - channel: C0SUPPORT
`)
	if _, err := Load(path, testLogger()); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestAssistantFor_UnknownChannelFallsThrough(t *testing.T) {
	path := writeRoutes(t, `routes:
  - channel: C0SUPPORT
    assistant: asst_support
`)
	table, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.AssistantFor("C0OTHER"); got != "" {
		t.Fatalf("expected empty assistant for unrouted channel, got %q", got)
	}
}
