package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindNotFound
	KindNotIndexable
	KindUpstream
	KindParse
	KindTimeout
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrNotIndexable   = errors.New("not indexable")
	ErrUpstream       = errors.New("upstream failure")
	ErrParse          = errors.New("parse failure")
	ErrTimeout        = errors.New("timeout")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindNotFound:
		return ErrNotFound
	case KindNotIndexable:
		return ErrNotIndexable
	case KindUpstream:
		return ErrUpstream
	case KindParse:
		return ErrParse
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "internal error"
}

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func InvalidRequest(msg string) error {
	return &Error{Kind: KindInvalidRequest, Msg: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func NotIndexable(msg string) error {
	return &Error{Kind: KindNotIndexable, Msg: msg}
}

func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Upstream wraps a backend failure. Deadline errors become KindTimeout.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && (ae.Kind == KindUpstream || ae.Kind == KindTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Msg != "" {
		return ae.Msg
	}
	return err.Error()
}

func StatusCode(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest, KindNotIndexable:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the operation may succeed if repeated.
func Retryable(err error) bool {
	return KindOf(err) == KindTimeout
}
