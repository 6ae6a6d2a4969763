package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"slackassist/internal/domain"

	"github.com/slack-go/slack"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type capturedPost struct {
	channel  string
	text     string
	threadTS string
}

// fakeSlack scripts the two Web API calls the notifier makes.
type fakeSlack struct {
	messages  []slack.Message
	lookupErr error
	failPosts int // how many posts fail before they start succeeding
	posts     []capturedPost
}

func (f *fakeSlack) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	if f.lookupErr != nil {
		return nil, false, "", f.lookupErr
	}
	return f.messages, false, "", nil
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts = append(f.posts, capturedPost{
		channel:  channelID,
		text:     values.Get("text"),
		threadTS: values.Get("thread_ts"),
	})
	if len(f.posts) <= f.failPosts {
		return "", "", errors.New("channel_not_found")
	}
	return channelID, "111.222", nil
}

// fakeSink records alerts.
type fakeSink struct {
	alerts []string
	err    error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Alert(ctx context.Context, text string) error {
	f.alerts = append(f.alerts, text)
	return f.err
}

func threadWith(texts ...string) []slack.Message {
	msgs := make([]slack.Message, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, slack.Message{Msg: slack.Msg{Text: text}})
	}
	return msgs
}

func testNotifier(api slackAPI, sinks ...Sink) *Slack {
	return NewSlack(SlackConfig{
		API:            api,
		AdminMemberID:  "U0ADMIN",
		PostsPerSecond: 1000, // keep tests from waiting on the limiter
		Sinks:          sinks,
		Logger:         testLogger(),
	})
}

func reply(text string) domain.OutboundReply {
	return domain.OutboundReply{ChannelID: "C1", ThreadID: "170.001", Text: text}
}

func TestSendIfNew_PostsIntoThread(t *testing.T) {
	api := &fakeSlack{messages: threadWith("the question")}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("the answer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySent {
		t.Fatalf("expected sent, got %s", outcome)
	}
	if len(api.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(api.posts))
	}
	post := api.posts[0]
	if post.channel != "C1" || post.text != "the answer" || post.threadTS != "170.001" {
		t.Fatalf("unexpected post: %+v", post)
	}
}

func TestSendIfNew_SuppressesExactDuplicate(t *testing.T) {
	api := &fakeSlack{messages: threadWith("the question", "the answer")}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("the answer"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySuppressed {
		t.Fatalf("expected suppressed, got %s", outcome)
	}
	if len(api.posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(api.posts))
	}
}

func TestSendIfNew_OneCharDifferenceStillSends(t *testing.T) {
	api := &fakeSlack{messages: threadWith("the answer")}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("the answer!"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySent {
		t.Fatalf("expected sent, got %s", outcome)
	}
}

func TestSendIfNew_ComparesFormattedText(t *testing.T) {
	// The thread holds the already-rewritten form of the reply.
	api := &fakeSlack{messages: threadWith("<https://example.com|docs>")}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("[docs](https://example.com)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySuppressed {
		t.Fatalf("expected suppressed, got %s", outcome)
	}
}

func TestSendIfNew_SendsFormattedText(t *testing.T) {
	api := &fakeSlack{}
	if _, err := testNotifier(api).SendIfNew(context.Background(), reply("see [docs](https://example.com)")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := api.posts[0].text; got != "see <https://example.com|docs>" {
		t.Fatalf("expected rewritten text, got %q", got)
	}
}

func TestSendIfNew_EmptyThreadSends(t *testing.T) {
	api := &fakeSlack{}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySent || len(api.posts) != 1 {
		t.Fatalf("expected a send into the empty thread, got %s with %d posts", outcome, len(api.posts))
	}
}

func TestSendIfNew_LookupFailureStillSends(t *testing.T) {
	api := &fakeSlack{lookupErr: errors.New("thread_not_found")}
	outcome, err := testNotifier(api).SendIfNew(context.Background(), reply("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != domain.DeliverySent || len(api.posts) != 1 {
		t.Fatalf("expected the send to proceed, got %s with %d posts", outcome, len(api.posts))
	}
}

func TestSendIfNew_SendFailureAlertsAdminAndReturnsOriginalError(t *testing.T) {
	api := &fakeSlack{failPosts: 1}
	sink := &fakeSink{}

	_, err := testNotifier(api, sink).SendIfNew(context.Background(), reply("hello"))
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected the original send error, got %v", err)
	}

	if len(api.posts) != 2 {
		t.Fatalf("expected failed send plus admin alert, got %d posts", len(api.posts))
	}
	alert := api.posts[1]
	if !strings.HasPrefix(alert.text, "<@U0ADMIN> ") {
		t.Fatalf("expected admin mention, got %q", alert.text)
	}
	if !strings.Contains(alert.text, "channel_not_found") {
		t.Fatalf("expected alert to carry the failure, got %q", alert.text)
	}
	if alert.channel != "C1" || alert.threadTS != "170.001" {
		t.Fatalf("expected alert in the same thread, got %+v", alert)
	}

	if len(sink.alerts) != 1 || !strings.Contains(sink.alerts[0], "channel_not_found") {
		t.Fatalf("expected sink to receive the alert, got %v", sink.alerts)
	}
}

func TestSendIfNew_AdminAlertFailureKeepsOriginalError(t *testing.T) {
	api := &fakeSlack{failPosts: 2} // the reply and the alert both fail
	sink := &fakeSink{err: errors.New("sink down")}

	_, err := testNotifier(api, sink).SendIfNew(context.Background(), reply("hello"))
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected the original send error, got %v", err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("expected sink to still be tried, got %d alerts", len(sink.alerts))
	}
}

func TestTruncate_CapsLongAlerts(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := truncate(long, 1900)
	if len([]rune(got)) != 1903 {
		t.Fatalf("expected 1900 runes plus ellipsis, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix")
	}
	if short := truncate("short", 1900); short != "short" {
		t.Fatalf("expected short text unchanged, got %q", short)
	}
}
