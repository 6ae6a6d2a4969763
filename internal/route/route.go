// Package route maps Slack channels to assistant ids so one deployment can
// serve several assistants.
package route

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule binds one Slack channel to an assistant.
type Rule struct {
	Channel   string `yaml:"channel"`
	Assistant string `yaml:"assistant"`
}

// Table is the routing table loaded from the routes file.
type Table struct {
	Rules []Rule `yaml:"routes"`
}

// Load reads a routing table. A missing file is not an error; every channel
// then falls through to the default assistant.
func Load(path string, logger *slog.Logger) (*Table, error) {
	if path == "" {
		return &Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("routes file does not exist, default assistant only", "path", path)
			return &Table{}, nil
		}
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	for i, r := range t.Rules {
		if r.Channel == "" || r.Assistant == "" {
			return nil, fmt.Errorf("routes file %s: rule %d needs both channel and assistant", path, i)
		}
	}

	logger.Info("routes loaded", "path", path, "rules", len(t.Rules))
	return &t, nil
}

// AssistantFor returns the assistant bound to the channel, or "" when the
// default applies.
func (t *Table) AssistantFor(channelID string) string {
	for _, r := range t.Rules {
		if r.Channel == channelID {
			return r.Assistant
		}
	}
	return ""
}
