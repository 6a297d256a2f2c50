package types

import (
	"errors"
	"fmt"
	"time"
)

// Kind groups failures into the categories surfaced across the module boundary
type Kind string

const (
	// KindValidation covers malformed or unsupported records; never retried
	KindValidation Kind = "validation"
	// KindIntegrity covers signature mismatches; treated as tampering, never repaired
	KindIntegrity Kind = "integrity"
	// KindPath covers missing, changed, or non-directory project paths
	KindPath Kind = "path"
	// KindCapacity covers rate limits and population caps
	KindCapacity Kind = "capacity"
	// KindIO covers filesystem failures mapped to safe categories
	KindIO Kind = "io"
)

// Reason codes carried by tagged errors. Bare codes only: the offending
// value is logged internally, never echoed through the error.
const (
	ReasonMalformed          = "malformed"
	ReasonUnsupportedVersion = "unsupported_version"
	ReasonInvalidVersion     = "invalid_version"
	ReasonUnknownRole        = "unknown_role"
	ReasonUnknownStatus      = "unknown_status"
	ReasonInvalidTimestamp   = "invalid_timestamp"
	ReasonMissingID          = "missing_id"
	ReasonInvalidSession     = "invalid_session"

	ReasonSignatureMismatch = "signature_mismatch"

	ReasonPathNotFound     = "path_not_found"
	ReasonPathNotDirectory = "path_not_directory"
	ReasonPathInvalid      = "path_invalid"
	ReasonPathChanged      = "project_path_changed"

	ReasonRateLimited      = "rate_limited"
	ReasonPopulationLimit  = "population_limit"
	ReasonDuplicateProject = "duplicate_project"
	ReasonSnapshotTooLarge = "snapshot_too_large"

	ReasonNotFound  = "not_found"
	ReasonDenied    = "permission_denied"
	ReasonIOFailure = "io_failure"
)

// Error is a tagged error crossing the persistence boundary
type Error struct {
	Kind       Kind
	Reason     string
	RetryAfter time.Duration // set for rate-limit rejections
	cause      error
}

// NewError creates a tagged error
func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError creates a tagged error preserving an internal cause.
// The cause is available via Unwrap for logging but is not rendered
// into the user-visible message.
func WrapError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// WithRetryAfter attaches a retry hint
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the kind of a tagged error, or KindIO for untagged ones
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindIO
}

// ReasonOf extracts the reason code of a tagged error
func ReasonOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonIOFailure
}

// IsReason reports whether err carries the given reason code
func IsReason(err error, reason string) bool {
	return ReasonOf(err) == reason
}

// Sanitize maps any error to a user-safe message. Paths, identifiers, and
// field values never pass through here; callers log the full error separately.
func Sanitize(err error) string {
	var te *Error
	if !errors.As(err, &te) {
		return "internal error"
	}

	switch te.Reason {
	case ReasonRateLimited:
		if te.RetryAfter > 0 {
			return fmt.Sprintf("rate limit exceeded, retry in %s", te.RetryAfter.Round(time.Second))
		}
		return "rate limit exceeded"
	case ReasonPopulationLimit:
		return "snapshot limit reached"
	case ReasonDuplicateProject:
		return "a session is already open for this project"
	case ReasonPathChanged:
		return "project directory changed during restore"
	case ReasonPathNotFound:
		return "project directory not found"
	case ReasonPathNotDirectory:
		return "project path is not a directory"
	case ReasonSignatureMismatch:
		return "snapshot failed integrity verification"
	case ReasonNotFound:
		return "snapshot not found"
	case ReasonSnapshotTooLarge:
		return "snapshot exceeds the size limit"
	}

	switch te.Kind {
	case KindValidation:
		return "snapshot is malformed or unsupported"
	case KindIntegrity:
		return "snapshot failed integrity verification"
	case KindPath:
		return "project path validation failed"
	case KindCapacity:
		return "capacity limit reached"
	default:
		return "storage operation failed"
	}
}
