package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slackassist/internal/domain"
	"slackassist/internal/metrics"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// ServerConfig configures the HTTP intake.
type ServerConfig struct {
	Host          string
	Port          int
	Path          string // events endpoint path; default /slack/events
	SigningSecret string // verifies request signatures; empty disables the check
	EnableEvents  bool   // serve the events path (false = health and metrics only)
	EnableMetrics bool
	Coordinator   *Coordinator
	Logger        *slog.Logger
}

// Server is the HTTP intake: the Slack events endpoint plus health and
// metrics.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the HTTP intake.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/slack/events"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	if s.cfg.EnableEvents {
		mux.HandleFunc(s.cfg.Path, s.handleEvents)
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.EnableMetrics {
		mux.Handle("/metrics", metrics.Collector.Handler())
	}

	// No WriteTimeout: the events handler legitimately holds the connection
	// while a run is polled to completion.
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("intake server starting",
		"addr", s.server.Addr, "events", s.cfg.EnableEvents, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("intake server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("intake server: %w", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.cfg.SigningSecret != "" {
		if err := verifySignature(r.Header, body, s.cfg.SigningSecret); err != nil {
			s.logger.Warn("request signature rejected", "remote", r.RemoteAddr, "err", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.logger.Warn("cannot parse event payload", "err", err)
		writeJSON(w, http.StatusBadRequest, Ack{Status: statusError, Message: "invalid event payload"})
		return
	}

	// Endpoint handshake: echo the challenge and stop. Never touches the
	// dedup store.
	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeJSON(w, http.StatusBadRequest, Ack{Status: statusError, Message: "invalid challenge payload"})
			return
		}
		metrics.HandshakesTotal.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge.Challenge})
		return
	}

	// Slack redelivers while the first attempt is still being worked; ack
	// retries outright and ask for no more.
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		metrics.RetriesSuppressed.Inc()
		w.Header().Set("X-Slack-No-Retry", "1")
		writeJSON(w, http.StatusOK, Ack{Status: statusOK})
		return
	}

	ev, ok := inboundFromCallback(event, "")
	if !ok {
		metrics.EventsIgnored.Inc()
		writeJSON(w, http.StatusOK, Ack{Status: statusOK})
		return
	}

	ack := s.cfg.Coordinator.HandleEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifySignature checks the v0 request signature and its replay window.
func verifySignature(header http.Header, body []byte, secret string) error {
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// inboundFromCallback extracts a processable message from a callback
// envelope. Noise (non-message events, bot and system messages, edits,
// empty text) is filtered out before the dedup store ever sees it, so noise
// never consumes a claim. selfID additionally drops the bot's own user when
// the transport knows it.
func inboundFromCallback(event slackevents.EventsAPIEvent, selfID string) (domain.InboundEvent, bool) {
	if event.Type != slackevents.CallbackEvent {
		return domain.InboundEvent{}, false
	}
	callback, ok := event.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || callback.EventID == "" {
		return domain.InboundEvent{}, false
	}
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return domain.InboundEvent{}, false
	}
	if msg.BotID != "" || msg.User == "" || msg.SubType != "" || msg.Text == "" {
		return domain.InboundEvent{}, false
	}
	if selfID != "" && msg.User == selfID {
		return domain.InboundEvent{}, false
	}

	threadID := msg.ThreadTimeStamp
	if threadID == "" {
		threadID = msg.TimeStamp
	}
	return domain.InboundEvent{
		EventID:   callback.EventID,
		ChannelID: msg.Channel,
		ThreadID:  threadID,
		Text:      msg.Text,
	}, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
