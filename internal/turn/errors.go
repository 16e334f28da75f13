package turn

import (
	"errors"
	"fmt"
)

// Kind classifies turn failures.
type Kind string

const (
	KindUserInput          Kind = "user_input"
	KindUpstreamCompletion Kind = "upstream_completion"
	KindMemoryWrite        Kind = "memory_write"
	KindMemoryRead         Kind = "memory_read"
	// KindCanceled marks a turn abandoned by its caller before it completed.
	KindCanceled           Kind = "canceled"
)

var (
	ErrMissingSession = errors.New("session_id is required")
	ErrMissingInput   = errors.New("input is required")
)

// Error is a classified turn failure. Only user input and upstream
// completion errors are returned to callers, plus KindCanceled when the
// caller gave up first; memory errors are logged.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a turn error, or "" for other errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
