package common

import (
	"errors"
	"fmt"
)

// Error kinds form a closed taxonomy. Every error that crosses a component
// boundary wraps exactly one of these sentinels, so callers can classify
// failures with errors.Is without inspecting message text.
var (
	// ErrGeneric marks unclassified failures.
	ErrGeneric = errors.New("generic error")
	// ErrCLI marks argument-parsing failures.
	ErrCLI = errors.New("cli error")
	// ErrServer marks bind/listen/accept/send failures, peer loss and
	// server double-close.
	ErrServer = errors.New("server error")
	// ErrClient marks connect/receive failures, bad buffer sizes, client
	// double-close and buffer-count mismatches.
	ErrClient = errors.New("client error")
	// ErrIO marks file read/write failures.
	ErrIO = errors.New("io error")
)

// Errorf builds an error of the given kind with a formatted message.
// The kind sentinel is wrapped, so errors.Is(err, kind) holds for the result.
//
// Usage:
//
//	return common.Errorf(common.ErrServer, "bind port %d: %v", port, err)
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind sentinel to an existing error, preserving the cause
// for errors.Is/errors.As chains.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}
