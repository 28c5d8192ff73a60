package gcloud

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a failed command from its stderr.
type Reason string

// Failure reasons.
const (
	ReasonUnknown          Reason = "unknown"
	ReasonNotFound         Reason = "not_found"
	ReasonAlreadyExists    Reason = "already_exists"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonTransient        Reason = "transient"
)

// CommandError is returned when gcloud or bq exits non-zero.
type CommandError struct {
	Tool     string
	Args     []string
	Stderr   string
	ExitCode int
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return fmt.Sprintf("%s: exit status %d: %s (reason=%s)", e.Tool, e.ExitCode, msg, e.Reason())
}

// Reason classifies the failure.
func (e *CommandError) Reason() Reason {
	return classify(e.Stderr)
}

// Status codes are matched only in the forms gcloud and bq print them, so
// digits inside resource names or project numbers do not classify.
var reasonMarkers = []struct {
	reason  Reason
	markers []string
}{
	{ReasonAlreadyExists, []string{"already_exists", "already exists", "http 409", "httperror 409", "error 409", "code=409"}},
	{ReasonNotFound, []string{
		"not_found",
		"not found",
		"does not exist",
		"could not be found",
		"cannot find",
		"http 404", "httperror 404", "error 404", "code=404",
	}},
	{ReasonPermissionDenied, []string{
		"permission_denied",
		"permission denied",
		"does not have permission",
		"http 403", "httperror 403", "error 403", "code=403",
	}},
	{ReasonTransient, []string{
		"resource_exhausted",
		"unavailable",
		"deadline_exceeded",
		"deadline exceeded",
		"try again",
		"connection reset",
		"http 429", "httperror 429", "error 429", "code=429",
		"http 500", "httperror 500", "error 500", "code=500",
		"http 502", "httperror 502", "error 502", "code=502",
		"http 503", "httperror 503", "error 503", "code=503",
		"http 504", "httperror 504", "error 504", "code=504",
	}},
}

// Markers returns the lowercase stderr fragments that classify as r.
func Markers(r Reason) []string {
	for _, rm := range reasonMarkers {
		if rm.reason == r {
			out := make([]string, len(rm.markers))
			copy(out, rm.markers)
			return out
		}
	}
	return nil
}

func classify(stderr string) Reason {
	lower := strings.ToLower(stderr)
	for _, rm := range reasonMarkers {
		for _, marker := range rm.markers {
			if strings.Contains(lower, marker) {
				return rm.reason
			}
		}
	}
	return ReasonUnknown
}

// ReasonOf returns the reason for err, or ReasonUnknown if err is not a CommandError.
func ReasonOf(err error) Reason {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.Reason()
	}
	return ReasonUnknown
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	return ReasonOf(err) == ReasonNotFound
}

// IsAlreadyExists reports whether err means the resource already exists.
func IsAlreadyExists(err error) bool {
	return ReasonOf(err) == ReasonAlreadyExists
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return ReasonOf(err) == ReasonTransient
}
