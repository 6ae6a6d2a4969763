// Package intake receives Slack event deliveries over HTTP or Socket Mode,
// enforces at-most-once handling per event id, and drives an assistant run
// for each accepted event.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slackassist/internal/domain"
	"slackassist/internal/metrics"

	"github.com/google/uuid"
)

// Ack is the JSON body returned for every processed delivery.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// Coordinator owns the claim-then-run pipeline shared by both intake
// transports.
type Coordinator struct {
	store     domain.EventStore
	runs      domain.RunClient
	overrides map[string]domain.RunClient // channel id -> assistant-bound client
	notifier  domain.Notifier
	logger    *slog.Logger
}

// CoordinatorConfig wires the coordinator's collaborators.
type CoordinatorConfig struct {
	Store     domain.EventStore
	Runs      domain.RunClient
	Overrides map[string]domain.RunClient
	Notifier  domain.Notifier
	Logger    *slog.Logger
}

// NewCoordinator creates the coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		store:     cfg.Store,
		runs:      cfg.Runs,
		overrides: cfg.Overrides,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}
}

// HandleEvent runs the pipeline for one delivery and returns the ack for the
// transport to serialize. The event id is claimed before any work starts and
// is never released, so a fault after the claim needs a manual replay rather
// than risking a double answer.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.InboundEvent) Ack {
	log := c.logger.With("rid", uuid.NewString()[:8], "event_id", ev.EventID)

	if ev.Retry {
		log.Info("retry delivery suppressed")
		metrics.RetriesSuppressed.Inc()
		return Ack{Status: statusOK}
	}

	claimed, err := c.store.TryClaim(ctx, ev.EventID)
	if err != nil {
		// Best-effort durability: the in-memory claim governs.
		log.Warn("dedup state not persisted", "err", err)
	}
	if !claimed {
		log.Info("event already processed")
		metrics.EventsDuplicate.Inc()
		return Ack{Status: statusOK, Message: "Event already processed"}
	}

	metrics.EventsTotal.Inc()
	log.Info("event claimed", "channel", ev.ChannelID, "thread", ev.ThreadID, "text_len", len(ev.Text))

	reply, failure := c.execute(ctx, log, ev)
	text := reply
	if failure != "" {
		text = failure
	}
	if err := c.deliver(ctx, log, ev, text); err != nil {
		// The notify fault becomes the reported failure; one more
		// best-effort attempt tells the thread about it.
		failure = fmt.Sprintf("Error: %v", err)
		_ = c.deliver(ctx, log, ev, failure)
	}

	if failure != "" {
		return Ack{Status: statusError, Message: failure}
	}
	return Ack{Status: statusOK}
}

// execute drives one run to its terminal outcome. On failure the returned
// text is the user-facing description posted into the thread.
func (c *Coordinator) execute(ctx context.Context, log *slog.Logger, ev domain.InboundEvent) (reply, failure string) {
	client := c.clientFor(ev.ChannelID)

	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	handle, err := client.CreateRun(ctx, ev.Text)
	if err != nil {
		log.Error("create run failed", "err", err)
		return "", fmt.Sprintf("Error: %v", err)
	}
	metrics.RunsTotal.Inc()
	log.Info("run created", "run_id", handle.RunID, "backend_thread", handle.ThreadID)

	start := time.Now()
	status, err := client.PollUntilTerminal(ctx, handle.ThreadID)
	if err != nil {
		log.Error("poll failed", "err", err)
		return "", fmt.Sprintf("Error: %v", err)
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if status != domain.RunCompleted {
		log.Warn("run ended without completing", "status", string(status))
		metrics.RunsFailed.Inc()
		return "", fmt.Sprintf("Run failed with status: %s", status)
	}

	text, err := client.FetchLatestMessage(ctx, handle.ThreadID)
	if err != nil {
		log.Error("fetch messages failed", "err", err)
		return "", fmt.Sprintf("Error: %v", err)
	}
	log.Info("run completed", "reply_len", len(text), "waited", time.Since(start).Round(time.Millisecond))
	return text, ""
}

// deliver hands text to the notifier. The notifier has already escalated by
// the time an error comes back.
func (c *Coordinator) deliver(ctx context.Context, log *slog.Logger, ev domain.InboundEvent, text string) error {
	outcome, err := c.notifier.SendIfNew(ctx, domain.OutboundReply{
		ChannelID: ev.ChannelID,
		ThreadID:  ev.ThreadID,
		Text:      text,
	})
	if err != nil {
		log.Error("notify failed", "err", err)
		return err
	}
	if outcome == domain.DeliverySuppressed {
		metrics.RepliesSuppressed.Inc()
	} else {
		metrics.RepliesSent.Inc()
	}
	return nil
}

func (c *Coordinator) clientFor(channelID string) domain.RunClient {
	if client, ok := c.overrides[channelID]; ok {
		return client
	}
	return c.runs
}
