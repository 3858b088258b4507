// Package apperr defines the typed errors surfaced to callers of the gateway.
// Every error carries a machine-readable Kind so transports can map it to a
// status code or a stream-ending event without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// InvalidTarget indicates a bad relation name or malformed request.
	InvalidTarget Kind = "invalid_target"
	// MissingTarget indicates a request that names no target at all.
	MissingTarget Kind = "missing_target"
	// MalformedPath indicates a channel path that cannot be parsed.
	MalformedPath Kind = "malformed_path"
	// UnknownFingerprint indicates a query path whose text was never cached.
	UnknownFingerprint Kind = "unknown_fingerprint"
	// MissingDatasource indicates a request without a resolvable datasource.
	MissingDatasource Kind = "missing_datasource"
	// InvalidSettings indicates datasource settings that cannot be used to connect.
	InvalidSettings Kind = "invalid_datasource_settings"
	// Connection indicates a failure talking to the database.
	Connection Kind = "connection"
	// Conversion indicates a failure building a frame from rows.
	Conversion Kind = "conversion"
	// NotImplemented indicates an operation that is deliberately unsupported.
	NotImplemented Kind = "not_implemented"
	// SlowConsumer indicates a subscriber detached because it fell behind.
	SlowConsumer Kind = "slow_consumer"
	// Internal is the fallback for untyped errors.
	Internal Kind = "internal"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf is New with a format string.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *E in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
