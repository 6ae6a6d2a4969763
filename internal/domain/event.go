package domain

type InboundEvent struct {
	EventID   string // platform-assigned delivery id; dedup key
	ChannelID string
	ThreadID  string // thread_ts of the triggering message, or its own ts when unthreaded
	Text      string
	Retry     bool // platform marked this delivery as a retry of an earlier one
}

type OutboundReply struct {
	ChannelID string
	ThreadID  string
	Text      string
}
