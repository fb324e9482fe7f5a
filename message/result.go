package message

import (
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of one send attempt. It is immutable.
type Result struct {
	id         string
	timestamp  time.Time
	success    bool
	diagnostic string
}

// Delivered records a successful send. An empty id is replaced by a placeholder.
func Delivered(id string, at time.Time) Result {
	return Result{id: idOrPlaceholder(id), timestamp: at, success: true}
}

// Failed records a failed attempt with the given diagnostic, stamped with the
// time the attempt was given up.
func Failed(diagnostic string, at time.Time) Result {
	return Result{id: idOrPlaceholder(""), timestamp: at, diagnostic: diagnostic}
}

func (r Result) ID() string           { return r.id }
func (r Result) Timestamp() time.Time { return r.timestamp }
func (r Result) Success() bool        { return r.success }
func (r Result) Diagnostic() string   { return r.diagnostic }

// PlaceholderID returns a generated id of the form <uuid.UNKNOWN>.
func PlaceholderID() string {
	return "<" + uuid.NewString() + ".UNKNOWN>"
}

func idOrPlaceholder(id string) string {
	if id == "" {
		return PlaceholderID()
	}
	return id
}
