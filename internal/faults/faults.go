// Package faults classifies bridge errors.
//
// Every failure the bridge produces wraps exactly one class sentinel so
// callers can branch with errors.Is regardless of which package raised it.
//
// Policy per class:
// - auth: retried inside the hub client, fatal once exhausted
// - transient: retried locally, then reported to the caller
// - data: logged, handled with a fallback, never fatal
// - protocol: logged, message dropped, listener continues
// - fatal: cancels the run and triggers the cooldown restart
package faults

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAuth      = errors.New("auth failure")
	ErrTransient = errors.New("transient i/o failure")
	ErrData      = errors.New("data error")
	ErrProtocol  = errors.New("protocol error")
	ErrFatal     = errors.New("fatal error")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindTransient
	KindData
	KindProtocol
	KindFatal
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindData:
		return "data"
	case KindProtocol:
		return "protocol"
	case KindFatal:
		return "fatal"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err onto the taxonomy. Cancellation wins over any class.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrData):
		return KindData
	default:
		return KindUnknown
	}
}

// Retryable reports whether a local retry may succeed.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}

func Auth(format string, args ...any) error {
	return wrap(ErrAuth, format, args...)
}

func Transient(format string, args ...any) error {
	return wrap(ErrTransient, format, args...)
}

func Data(format string, args ...any) error {
	return wrap(ErrData, format, args...)
}

func Protocol(format string, args ...any) error {
	return wrap(ErrProtocol, format, args...)
}

func Fatal(format string, args ...any) error {
	return wrap(ErrFatal, format, args...)
}

// wrap keeps any %w operand in args so the cause stays reachable.
func wrap(class error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{class}, args...)...)
}
