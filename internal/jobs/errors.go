package jobs

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound   = errors.New("job not found")
	ErrConstraint = errors.New("job constraint violation")
	ErrCancelled  = errors.New("job cancelled")
	ErrTerminal   = errors.New("job already finished")
)

// UnknownColumnError reports a field the backing store does not know about.
type UnknownColumnError struct {
	Column string
	Err    error
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q: %v", e.Column, e.Err)
}

func (e *UnknownColumnError) Unwrap() error { return e.Err }

var unknownColumnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`no such column: (?:\w+\.)?(\w+)`),
	regexp.MustCompile(`has no column named (\w+)`),
}

// classifyUnknownColumn wraps err as *UnknownColumnError when the driver message names a missing column.
func classifyUnknownColumn(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, re := range unknownColumnPatterns {
		if m := re.FindStringSubmatch(msg); len(m) == 2 {
			return &UnknownColumnError{Column: m[1], Err: err}
		}
	}
	return err
}
