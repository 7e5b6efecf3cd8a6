package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a source-level error that is safe to retry with
// backoff (rate limits, 5xx responses, network timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentRecordError marks a single malformed source record. The record is
// skipped and logged; the batch continues.
type PermanentRecordError struct {
	SourceSystem string
	SourceID     string
	Reason       string
}

func (e *PermanentRecordError) Error() string {
	return fmt.Sprintf("permanent record error: %s/%s: %s", e.SourceSystem, e.SourceID, e.Reason)
}

// AmbiguousMatchError signals that two or more match candidates scored within
// the ambiguity margin of each other. The record is queued for manual review,
// never auto-resolved.
type AmbiguousMatchError struct {
	SourceSystem string
	SourceID     string
	CandidateIDs []string
	Scores       []float64
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for %s/%s: %d candidates within margin",
		e.SourceSystem, e.SourceID, len(e.CandidateIDs))
}

// ConflictError signals a concurrent write to the same canonical record.
// Retried once, then surfaced.
type ConflictError struct {
	CanonicalID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction conflict on canonical record %s", e.CanonicalID)
}

// IsPermanentRecord reports whether err marks a skippable single-record failure.
func IsPermanentRecord(err error) bool {
	var pe *PermanentRecordError
	return errors.As(err, &pe)
}

// IsAmbiguous reports whether err is an ambiguous-match signal.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousMatchError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is a canonical-record write conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
