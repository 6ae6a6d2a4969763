package intake

import (
	"context"
	"fmt"
	"log/slog"

	"slackassist/internal/metrics"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SocketIntake receives event deliveries over Socket Mode instead of the
// public webhook. Claiming and execution are shared with the HTTP path; only
// the transport differs.
type SocketIntake struct {
	api         *slack.Client
	coordinator *Coordinator
	logger      *slog.Logger
	botUID      string
}

// SocketConfig configures the Socket Mode intake.
type SocketConfig struct {
	API         *slack.Client // must carry an app-level token
	Coordinator *Coordinator
	Logger      *slog.Logger
}

// NewSocketIntake creates the Socket Mode intake.
func NewSocketIntake(cfg SocketConfig) *SocketIntake {
	return &SocketIntake{api: cfg.API, coordinator: cfg.Coordinator, logger: cfg.Logger}
}

// Start connects and dispatches events until ctx is cancelled.
func (s *SocketIntake) Start(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("socket intake authenticated", "user", auth.User, "user_id", auth.UserID)

	client := socketmode.New(s.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				s.logger.Debug("socket mode connecting")
			case socketmode.EventTypeConnectionError:
				s.logger.Warn("socket mode connection error", "err", evt.Data)
			case socketmode.EventTypeConnected:
				s.logger.Info("socket mode connected")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || evt.Request == nil {
					continue
				}
				retry := evt.Request.RetryAttempt > 0
				// Ack before working: the run can take minutes and Slack
				// drops the envelope after a few seconds.
				client.Ack(*evt.Request)
				go s.dispatch(ctx, apiEvent, retry)
			default:
				// Ack everything else so Slack does not disconnect us.
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("socket intake disconnecting")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("socket mode: %w", err)
		}
		return nil
	}
}

func (s *SocketIntake) dispatch(ctx context.Context, event slackevents.EventsAPIEvent, retry bool) {
	ev, ok := inboundFromCallback(event, s.botUID)
	if !ok {
		metrics.EventsIgnored.Inc()
		return
	}
	ev.Retry = retry
	ack := s.coordinator.HandleEvent(ctx, ev)
	s.logger.Debug("socket event handled", "event_id", ev.EventID, "status", ack.Status)
}
