package queue

import "context"

// Job consumes messages of one type. Jobs are registered before Start and
// never change afterwards.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type this job consumes.
	Type() string

	// Handle processes one payload. Returning an error schedules a retry
	// until the retry limit is reached.
	Handle(ctx context.Context, payload interface{}) error
}
