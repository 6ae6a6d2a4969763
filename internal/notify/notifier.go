// Package notify posts assistant replies into Slack threads. A reply is
// suppressed when the thread's newest message already carries the exact same
// text; a failed send tags the administrator in-thread and fans out to the
// configured escalation sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"slackassist/internal/domain"
	"slackassist/internal/format"
	"slackassist/internal/metrics"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// slackAPI is the slice of the Slack Web API the notifier uses.
type slackAPI interface {
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Sink receives administrator alerts so a failed Slack send still reaches an
// operator somewhere.
type Sink interface {
	Name() string
	Alert(ctx context.Context, text string) error
}

// Slack delivers replies through the Slack Web API.
type Slack struct {
	api     slackAPI
	adminID string
	limiter *rate.Limiter
	sinks   []Sink
	logger  *slog.Logger
}

// SlackConfig configures the notifier.
type SlackConfig struct {
	API            slackAPI
	AdminMemberID  string  // mentioned in-thread when a send fails
	PostsPerSecond float64 // default 1
	Sinks          []Sink
	Logger         *slog.Logger
}

// NewSlack creates the notifier.
func NewSlack(cfg SlackConfig) *Slack {
	rps := cfg.PostsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Slack{
		api:     cfg.API,
		adminID: cfg.AdminMemberID,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		sinks:   cfg.Sinks,
		logger:  cfg.Logger,
	}
}

// SendIfNew implements domain.Notifier. The reply text is rewritten to Slack
// syntax before both the comparison and the send, so a redelivered reply
// matches what actually sits in the thread.
func (s *Slack) SendIfNew(ctx context.Context, reply domain.OutboundReply) (domain.Delivery, error) {
	text := format.Links(reply.Text)

	last, found, err := s.lastThreadMessage(ctx, reply.ChannelID, reply.ThreadID)
	if err != nil {
		// A failed lookup never blocks the send.
		s.logger.Warn("cannot read last thread message, sending anyway",
			"channel", reply.ChannelID, "thread", reply.ThreadID, "err", err)
		found = false
	}
	if found && last == text {
		s.logger.Info("reply suppressed, thread already has it",
			"channel", reply.ChannelID, "thread", reply.ThreadID)
		return domain.DeliverySuppressed, nil
	}

	if err := s.post(ctx, reply.ChannelID, reply.ThreadID, text); err != nil {
		s.escalate(ctx, reply.ChannelID, reply.ThreadID, err)
		return domain.DeliverySent, err
	}
	return domain.DeliverySent, nil
}

// lastThreadMessage pages through conversations.replies and returns the text
// of the newest message in the thread.
func (s *Slack) lastThreadMessage(ctx context.Context, channelID, threadTS string) (string, bool, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     200,
	}
	var lastText string
	var found bool
	for {
		msgs, hasMore, nextCursor, err := s.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return "", false, &domain.PlatformLookupError{ChannelID: channelID, ThreadID: threadTS, Err: err}
		}
		if len(msgs) > 0 {
			lastText = msgs[len(msgs)-1].Text
			found = true
		}
		if !hasMore || nextCursor == "" {
			break
		}
		params.Cursor = nextCursor
	}
	return lastText, found, nil
}

// post sends one message into the thread, observing the send rate limit.
func (s *Slack) post(ctx context.Context, channelID, threadTS, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := s.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	return err
}

// escalate tags the administrator in the same thread with the failure and
// fans the alert out to every sink. Each leg is best effort; callers keep
// seeing the original send error.
func (s *Slack) escalate(ctx context.Context, channelID, threadTS string, sendErr error) {
	metrics.EscalationsTotal.Inc()
	s.logger.Error("reply send failed", "channel", channelID, "thread", threadTS, "err", sendErr)

	alert := truncate(fmt.Sprintf("<@%s> %v", s.adminID, sendErr), 1900)
	if s.adminID != "" {
		if err := s.post(ctx, channelID, threadTS, alert); err != nil {
			s.logger.Error("admin alert failed", "channel", channelID, "err", err)
		}
	}
	for _, sink := range s.sinks {
		if err := sink.Alert(ctx, alert); err != nil {
			s.logger.Error("escalation sink failed", "sink", sink.Name(), "err", err)
		}
	}
}

// truncate caps alert text so it fits every sink's message limit.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
