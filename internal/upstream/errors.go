package upstream

import (
	"context"
	"errors"
	"fmt"

	"ranking-cache-service/api/dto"
)

// Sentinels for errors.Is; every *Error matches the one of its Kind.
var (
	ErrNetwork             = errors.New("upstream network error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrParseFailure        = errors.New("upstream payload parse failure")
)

// Error is a typed failure of one upstream operation.
type Error struct {
	Kind   dto.ErrorKind
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case dto.ErrorKindNetwork:
		return target == ErrNetwork
	case dto.ErrorKindUpstreamUnavailable:
		return target == ErrUpstreamUnavailable
	case dto.ErrorKindParseFailure:
		return target == ErrParseFailure
	}
	return false
}

func networkError(op, url string, err error) *Error {
	return &Error{Kind: dto.ErrorKindNetwork, Op: op, URL: url, Err: err}
}

func unavailableError(op, url string, status int) *Error {
	return &Error{Kind: dto.ErrorKindUpstreamUnavailable, Op: op, URL: url, Status: status}
}

func parseError(op, url string, err error) *Error {
	return &Error{Kind: dto.ErrorKindParseFailure, Op: op, URL: url, Err: err}
}

// KindOf classifies any error returned by the fetch path. Timeouts and
// cancellations count as network failures.
func KindOf(err error) dto.ErrorKind {
	if err == nil {
		return ""
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dto.ErrorKindNetwork
	}
	return dto.ErrorKindUnknown
}
