// Package assistant talks to the OpenAI Assistants API: it creates a run for
// an input message, polls the run until a terminal status, and retrieves the
// newest reply from the run's thread.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slackassist/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client drives runs against the assistants endpoints over raw HTTP. Every
// request carries the bearer credential and the assistants beta header.
type Client struct {
	apiKey      string
	baseURL     string
	assistantID string
	interval    time.Duration
	maxWait     time.Duration
	client      *http.Client
	logger      *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey       string
	BaseURL      string        // default: the public OpenAI endpoint
	AssistantID  string
	PollInterval time.Duration // delay between status checks; default 5s
	MaxWait      time.Duration // bound on PollUntilTerminal; 0 polls without bound
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// New creates a client for one assistant backend.
func New(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		assistantID: cfg.AssistantID,
		interval:    cfg.PollInterval,
		maxWait:     cfg.MaxWait,
		client:      cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

// WithAssistant returns a copy of the client bound to a different assistant
// id. Transport, credentials and polling settings are shared.
func (c *Client) WithAssistant(id string) *Client {
	clone := *c
	clone.assistantID = id
	return &clone
}

type createRunRequest struct {
	AssistantID string    `json:"assistant_id"`
	Thread      runThread `json:"thread"`
}

type runThread struct {
	Messages []threadMessage `json:"messages"`
}

type threadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createRunResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type runListResponse struct {
	Data []runObject `json:"data"`
}

type runObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageListResponse struct {
	Data []messageObject `json:"data"`
}

type messageObject struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
}

type messageContent struct {
	Type string      `json:"type"`
	Text messageText `json:"text"`
}

type messageText struct {
	Value string `json:"value"`
}

// CreateRun opens a new thread-and-run seeded with a single user message.
func (c *Client) CreateRun(ctx context.Context, inputText string) (domain.RunHandle, error) {
	reqBody := createRunRequest{
		AssistantID: c.assistantID,
		Thread: runThread{
			Messages: []threadMessage{{Role: "user", Content: inputText}},
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return domain.RunHandle{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/threads/runs", bytes.NewReader(jsonBody))
	if err != nil {
		return domain.RunHandle{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.RunHandle{}, fmt.Errorf("create run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.RunHandle{}, &domain.TransportError{Op: "create run", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var created createRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return domain.RunHandle{}, &domain.StructuralError{Op: "create run", Detail: fmt.Sprintf("decode response: %v", err)}
	}
	if created.ID == "" || created.ThreadID == "" {
		return domain.RunHandle{}, &domain.StructuralError{Op: "create run", Detail: "response missing run or thread id"}
	}

	c.logger.Debug("run created", "run_id", created.ID, "thread_id", created.ThreadID)
	return domain.RunHandle{RunID: created.ID, ThreadID: created.ThreadID}, nil
}

// PollUntilTerminal checks the run status at the configured interval until
// the backend reports something other than queued or in_progress. With no
// MaxWait the wait is unbounded; callers bound it through MaxWait or ctx.
func (c *Client) PollUntilTerminal(ctx context.Context, threadID string) (domain.RunStatus, error) {
	if c.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		status, err := c.currentStatus(ctx, threadID)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			c.logger.Debug("run reached terminal status",
				"thread_id", threadID, "status", string(status), "waited", time.Since(start).Round(time.Millisecond))
			return status, nil
		}
		c.logger.Debug("run still working", "thread_id", threadID, "status", string(status))

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("poll run: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// currentStatus reads the status of the thread's newest run (the first list
// element).
func (c *Client) currentStatus(ctx context.Context, threadID string) (domain.RunStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/threads/"+threadID+"/runs", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &domain.TransportError{Op: "poll run", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var runs runListResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return "", &domain.StructuralError{Op: "poll run", Detail: fmt.Sprintf("decode response: %v", err)}
	}
	if len(runs.Data) == 0 {
		return "", &domain.StructuralError{Op: "poll run", Detail: "run list is empty"}
	}
	if runs.Data[0].Status == "" {
		return "", &domain.StructuralError{Op: "poll run", Detail: "run has no status"}
	}
	return domain.RunStatus(runs.Data[0].Status), nil
}

// FetchLatestMessage returns the text of the newest message in the thread
// (the first list element).
func (c *Client) FetchLatestMessage(ctx context.Context, threadID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/threads/"+threadID+"/messages", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &domain.TransportError{Op: "fetch messages", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var msgs messageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return "", &domain.StructuralError{Op: "fetch messages", Detail: fmt.Sprintf("decode response: %v", err)}
	}
	if len(msgs.Data) == 0 {
		return "", &domain.StructuralError{Op: "fetch messages", Detail: "message list is empty"}
	}
	first := msgs.Data[0]
	if len(first.Content) == 0 || first.Content[0].Text.Value == "" {
		return "", &domain.StructuralError{Op: "fetch messages", Detail: "message has no text content"}
	}
	return first.Content[0].Text.Value, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}
