package publisher

import "time"

// RunEvent is the payload published after every acquisition run so
// downstream consumers can react to fresh data without polling the run
// store.
type RunEvent struct {
	RunID    string    `json:"run_id"`
	Source   string    `json:"source"`
	Outcome  string    `json:"outcome"`
	Count    int       `json:"count"`
	Finished time.Time `json:"finished"`
}

// Publisher represents a service for publishing run events
type Publisher interface {
	// PublishRun publishes one run event to a stream
	PublishRun(event RunEvent) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}
