package domain

import "context"

// Delivery is the outcome of a SendIfNew call.
type Delivery int

const (
	DeliverySent Delivery = iota
	DeliverySuppressed
)

func (d Delivery) String() string {
	if d == DeliverySuppressed {
		return "suppressed"
	}
	return "sent"
}

// EventStore tracks which inbound event ids have already been handled.
// Implementations must make TryClaim atomic across concurrent callers:
// exactly one caller observes claimed=true for a given id over the lifetime
// of the store.
type EventStore interface {
	// TryClaim records id as processed and reports whether this call made
	// the first-ever claim. A non-nil error is a persistence problem only;
	// claimed is valid either way, and a claim that could not be persisted
	// still stands for the life of the process.
	TryClaim(ctx context.Context, id string) (claimed bool, err error)
	Contains(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// RunClient drives one assistant run: create it, poll it to a terminal
// status, fetch the newest message from its thread.
type RunClient interface {
	CreateRun(ctx context.Context, inputText string) (RunHandle, error)
	PollUntilTerminal(ctx context.Context, threadID string) (RunStatus, error)
	FetchLatestMessage(ctx context.Context, threadID string) (string, error)
}

// Notifier delivers a reply into a channel thread unless the thread's newest
// message already carries the exact same text.
type Notifier interface {
	SendIfNew(ctx context.Context, reply OutboundReply) (Delivery, error)
}
