package domain

// RunStatus is the backend-reported state of an assistant run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the run will not transition again. Any status the
// backend invents beyond queued/in_progress counts as terminal, so an
// unknown state never traps a poller.
func (s RunStatus) Terminal() bool {
	return s != RunQueued && s != RunInProgress
}

// RunHandle identifies a created run and the backend thread that owns it.
type RunHandle struct {
	RunID    string
	ThreadID string
}
