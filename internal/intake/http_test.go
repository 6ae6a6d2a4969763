package intake

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testServer(store *fakeStore, runs *fakeRunClient, notifier *fakeNotifier, secret string) *Server {
	return NewServer(ServerConfig{
		Path:          "/slack/events",
		SigningSecret: secret,
		EnableEvents:  true,
		Coordinator:   testCoordinator(store, runs, notifier),
		Logger:        testLogger(),
	})
}

func callbackBody(eventID, channel, user, text string, extra map[string]any) []byte {
	event := map[string]any{
		"type":         "message",
		"user":         user,
		"text":         text,
		"ts":           "170.001",
		"channel":      channel,
		"event_ts":     "170.001",
		"channel_type": "channel",
	}
	for k, v := range extra {
		event[k] = v
	}
	body, _ := json.Marshal(map[string]any{
		"token":      "tok",
		"team_id":    "T1",
		"api_app_id": "A1",
		"type":       "event_callback",
		"event_id":   eventID,
		"event_time": 1700000000,
		"event":      event,
	})
	return body
}

func postEvents(s *Server, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handleEvents(rr, req)
	return rr
}

func decodeAck(t *testing.T, rr *httptest.ResponseRecorder) Ack {
	t.Helper()
	var ack Ack
	if err := json.NewDecoder(rr.Body).Decode(&ack); err != nil {
		t.Fatalf("cannot decode ack: %v", err)
	}
	return ack
}

func TestHandleEvents_RejectsNonPOST(t *testing.T) {
	s := testServer(&fakeStore{}, &fakeRunClient{}, &fakeNotifier{}, "")
	req := httptest.NewRequest(http.MethodGet, "/slack/events", nil)
	rr := httptest.NewRecorder()
	s.handleEvents(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleEvents_URLVerificationEchoesChallenge(t *testing.T) {
	store := &fakeStore{}
	s := testServer(store, &fakeRunClient{}, &fakeNotifier{}, "")

	body := []byte(`{"type":"url_verification","token":"tok","challenge":"abc123"}`)
	rr := postEvents(s, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp["challenge"] != "abc123" {
		t.Fatalf("expected the challenge echoed, got %v", resp)
	}
	if store.claimCalls != 0 {
		t.Fatalf("expected the handshake to leave the store alone, got %d claims", store.claimCalls)
	}
}

func TestHandleEvents_RetryHeaderAcksWithoutWork(t *testing.T) {
	store := &fakeStore{}
	runs := &fakeRunClient{}
	s := testServer(store, runs, &fakeNotifier{}, "")

	body := callbackBody("Ev001", "C1", "U1", "hello", nil)
	rr := postEvents(s, body, map[string]string{"X-Slack-Retry-Num": "1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); ack.Status != "ok" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if got := rr.Header().Get("X-Slack-No-Retry"); got != "1" {
		t.Fatalf("expected no-retry header, got %q", got)
	}
	if store.claimCalls != 0 {
		t.Fatalf("expected no claim for a retry, got %d", store.claimCalls)
	}
	if creates, _, _ := runs.counts(); creates != 0 {
		t.Fatalf("expected no run for a retry, got %d", creates)
	}
}

func TestHandleEvents_MalformedJSONIsBadRequest(t *testing.T) {
	s := testServer(&fakeStore{}, &fakeRunClient{}, &fakeNotifier{}, "")
	rr := postEvents(s, []byte("{not json"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); ack.Status != "error" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestHandleEvents_MessageEventRunsThePipeline(t *testing.T) {
	store := &fakeStore{}
	runs := &fakeRunClient{reply: "the answer"}
	notifier := &fakeNotifier{}
	s := testServer(store, runs, notifier, "")

	rr := postEvents(s, callbackBody("Ev001", "C1", "U1", "hello", nil), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ack := decodeAck(t, rr); ack.Status != "ok" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if has, _ := store.Contains(context.Background(), "Ev001"); !has {
		t.Fatal("expected the event id to be claimed")
	}
	if texts := notifier.texts(); len(texts) != 1 || texts[0] != "the answer" {
		t.Fatalf("unexpected deliveries: %v", texts)
	}
}

func TestHandleEvents_SecondDeliveryIsAckedAsDuplicate(t *testing.T) {
	store := &fakeStore{}
	runs := &fakeRunClient{reply: "the answer"}
	s := testServer(store, runs, &fakeNotifier{}, "")

	body := callbackBody("Ev001", "C1", "U1", "hello", nil)
	postEvents(s, body, nil)
	rr := postEvents(s, body, nil)

	ack := decodeAck(t, rr)
	if ack.Status != "ok" || ack.Message != "Event already processed" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if creates, _, _ := runs.counts(); creates != 1 {
		t.Fatalf("expected one run, got %d", creates)
	}
}

func TestHandleEvents_BotMessageIsIgnored(t *testing.T) {
	store := &fakeStore{}
	runs := &fakeRunClient{}
	s := testServer(store, runs, &fakeNotifier{}, "")

	body := callbackBody("Ev001", "C1", "U1", "hello", map[string]any{"bot_id": "B1"})
	rr := postEvents(s, body, nil)

	if ack := decodeAck(t, rr); ack.Status != "ok" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if store.claimCalls != 0 {
		t.Fatalf("expected bot noise to skip the store, got %d claims", store.claimCalls)
	}
	if creates, _, _ := runs.counts(); creates != 0 {
		t.Fatalf("expected no run for bot noise, got %d", creates)
	}
}

func TestHandleEvents_EditedMessageIsIgnored(t *testing.T) {
	store := &fakeStore{}
	s := testServer(store, &fakeRunClient{}, &fakeNotifier{}, "")

	body := callbackBody("Ev001", "C1", "U1", "hello", map[string]any{"subtype": "message_changed"})
	postEvents(s, body, nil)
	if store.claimCalls != 0 {
		t.Fatalf("expected edits to skip the store, got %d claims", store.claimCalls)
	}
}

func TestHandleEvents_ThreadedMessageKeepsItsThread(t *testing.T) {
	notifier := &fakeNotifier{}
	s := testServer(&fakeStore{}, &fakeRunClient{reply: "ok"}, notifier, "")

	body := callbackBody("Ev001", "C1", "U1", "hello", map[string]any{"thread_ts": "169.000"})
	postEvents(s, body, nil)

	if len(notifier.sent) != 1 || notifier.sent[0].ThreadID != "169.000" {
		t.Fatalf("expected the reply in thread 169.000, got %+v", notifier.sent)
	}
}

func TestHandleEvents_UnthreadedMessageStartsItsOwnThread(t *testing.T) {
	notifier := &fakeNotifier{}
	s := testServer(&fakeStore{}, &fakeRunClient{reply: "ok"}, notifier, "")

	postEvents(s, callbackBody("Ev001", "C1", "U1", "hello", nil), nil)

	if len(notifier.sent) != 1 || notifier.sent[0].ThreadID != "170.001" {
		t.Fatalf("expected the reply under the message ts, got %+v", notifier.sent)
	}
}

func TestHandleEvents_UnsignedRequestIsRejected(t *testing.T) {
	s := testServer(&fakeStore{}, &fakeRunClient{}, &fakeNotifier{}, "shhh")
	rr := postEvents(s, callbackBody("Ev001", "C1", "U1", "hello", nil), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleEvents_SignedRequestIsAccepted(t *testing.T) {
	store := &fakeStore{}
	s := testServer(store, &fakeRunClient{reply: "ok"}, &fakeNotifier{}, "shhh")

	body := callbackBody("Ev001", "C1", "U1", "hello", nil)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("shhh"))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	rr := postEvents(s, body, map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         sig,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.claimCalls != 1 {
		t.Fatalf("expected the signed event to be processed, got %d claims", store.claimCalls)
	}
}

func TestHandleEvents_StaleSignatureIsRejected(t *testing.T) {
	s := testServer(&fakeStore{}, &fakeRunClient{}, &fakeNotifier{}, "shhh")

	body := callbackBody("Ev001", "C1", "U1", "hello", nil)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	mac := hmac.New(sha256.New, []byte("shhh"))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	rr := postEvents(s, body, map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         sig,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a stale signature, got %d", rr.Code)
	}
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	s := testServer(&fakeStore{}, &fakeRunClient{}, &fakeNotifier{}, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("cannot decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", resp)
	}
}
