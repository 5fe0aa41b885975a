// Package errors implements a tagged-outcome error model: every
// capability call and worker loop converts a raw error into a
// structured OperationError (optionally classified with a Kind) before it
// crosses a component boundary, instead of letting untyped errors
// propagate between subsystems.
package errors

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies why an operation failed. The zero value
// KindUnknown means the error was never explicitly classified.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransientIO is retried within the same tick with bounded attempts.
	KindTransientIO
	// KindTimeout is a probe/action deadline exceeded; no retry this tick.
	KindTimeout
	// KindValidation drops the offending reading/frame; never aborts a worker.
	KindValidation
	// KindPreconditionFailed is a declined action (e.g. already at max
	// replicas); logged at info, not treated as an error.
	KindPreconditionFailed
	// KindDependencyUnavailable surfaces as a Critical incident on the
	// affected component.
	KindDependencyUnavailable
	// KindPanic is a recovered panic from a task's run loop.
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// OperationError is the structured error carried across component
// boundaries: what failed (Operation), where (Component/Resource), why
// (Cause), and its classification (Kind).
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
	Kind      Kind
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to %s", e.Operation)
	if e.Component != "" {
		fmt.Fprintf(&b, ", component: %s", e.Component)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, ", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ", cause: %s", e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error { return e.Cause }

// FailedTo builds a plain "failed to <action>[: <cause>]" error.
func FailedTo(action string, cause error) error {
	if cause != nil {
		return fmt.Errorf("failed to %s: %w", action, cause)
	}
	return fmt.Errorf("failed to %s", action)
}

// FailedToWithDetails builds a structured OperationError carrying the
// failing component and resource alongside the action and cause.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Tagged builds a structured OperationError classified with kind, for
// workers that need to branch on Kind.
func Tagged(kind Kind, action, component string, cause error) error {
	return &OperationError{Operation: action, Component: component, Cause: cause, Kind: kind}
}

// KindOf extracts the Kind from err (walking Unwrap), or KindUnknown if err
// was never tagged.
func KindOf(err error) Kind {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or anything it wraps) carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrapf prefixes err with a formatted message. Wrapf(nil, ...) returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// DatabaseError wraps a Storage-capability failure.
func DatabaseError(operation string, cause error) error {
	return FailedToWithDetails(operation, "database", "", cause)
}

// NetworkError wraps an outbound-call failure (health probes, orchestrator
// capability, notification sink) at the given endpoint.
func NetworkError(operation, endpoint string, cause error) error {
	return FailedToWithDetails(operation, "network", endpoint, cause)
}

// ValidationError reports a per-field validation failure (feature
// pipeline channel-bound checks, config surface checks).
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports a rejected or missing configuration value.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports a deadline exceeded while performing operation.
func TimeoutError(operation, duration string) error {
	return fmt.Errorf("timeout while %s after %s", operation, duration)
}

// AuthenticationError reports a failed Principal credential check.
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports an Authorizer denial.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a failure decoding target as format (config files,
// metrics-scrape blobs).
func ParseError(target, format string, cause error) error {
	return FailedToWithDetails(fmt.Sprintf("parse %s as %s", target, format), "parser", "", cause)
}

// IsRetryable heuristically classifies err as transient based on common
// substrings; used where a caller only has an untyped error (e.g. straight
// from a driver) and has not yet wrapped it with Tagged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"timeout", "connection refused", "unavailable", "temporarily", "try again", "eof"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Chain combines zero or more errors (nils ignored) into one: nil if none,
// the error itself if exactly one, or a "multiple errors: ..." summary.
func Chain(errs ...error) error {
	nonNil := make([]error, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		parts := make([]string, len(nonNil))
		for i, e := range nonNil {
			parts[i] = e.Error()
		}
		return fmt.Errorf("multiple errors: %s", strings.Join(parts, "; "))
	}
}

// New is a thin re-export of go-faster/errors.New so callers of this
// package rarely need to import go-faster/errors directly.
func New(msg string) error { return errors.New(msg) }
