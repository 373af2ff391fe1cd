// Package faults defines the error taxonomy shared by every stage of a publish run.
package faults

import (
	"errors"
	"fmt"
)

// Every error below is terminal for the run that produced it.
var (
	ErrIntegrationNotFound   = errors.New("required integration not found")
	ErrCIBaseURLMissing      = errors.New("CI base URL missing")
	ErrNoChangesetFound      = errors.New("no changeset found")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrMalformedTimestamp    = errors.New("malformed timestamp")
	ErrMalformedEffort       = errors.New("malformed effort")
	ErrDanglingFileReference = errors.New("dangling file reference")
	ErrTokenNotFound         = errors.New("project token not found")
	ErrDatabaseOffline       = errors.New("rule engine database offline")
	ErrUnexpectedServerError = errors.New("unexpected server error")
	ErrTransportFailure      = errors.New("transport failure")

	ErrAlreadyPublished = errors.New("report already published for build")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// UserError wraps errors with operator-facing messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

type hint struct {
	target  error
	message string
	hint    string
}

var hints = []hint{
	{ErrIntegrationNotFound, "Required integration not active", "Configure both a supported SCM (git or svn) and the analysis server for this project."},
	{ErrCIBaseURLMissing, "CI base URL could not be found", "Set JENKINS_URL or ci.base_url in the configuration file."},
	{ErrNoChangesetFound, "Build has no changeset", "Only the first build of a project may have no commits; check the SCM polling configuration."},
	{ErrUpstreamUnavailable, "Upstream service unavailable", "Check that the CI and analysis servers are reachable and the credentials are valid."},
	{ErrMalformedTimestamp, "Upstream returned a malformed timestamp", "The CI or analysis server returned a date in an unexpected format."},
	{ErrMalformedEffort, "Upstream returned a malformed effort value", "Expected values such as 1h30m, 45m or 2h."},
	{ErrDanglingFileReference, "Duplication block references an unknown file", "The analysis server returned an inconsistent duplications payload."},
	{ErrTokenNotFound, "Project token not found", "Check that the project token matches a project registered with the rule engine."},
	{ErrDatabaseOffline, "Rule engine database is offline", "Retry the build once the rule engine reports healthy."},
	{ErrUnexpectedServerError, "Rule engine returned an unexpected error", ""},
	{ErrTransportFailure, "Could not reach the rule engine", "Check rule_engine.url and network connectivity."},
	{ErrAlreadyPublished, "Report already published", "A report is published exactly once per build."},
	{ErrInvalidConfig, "Invalid configuration", "Run `buildreport validate` to list every invalid field."},
}

// WrapError converts a run failure into a UserError carrying a remediation hint.
// Unknown errors are returned unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return err
	}

	for _, h := range hints {
		if errors.Is(err, h.target) {
			return &UserError{
				Message: h.message,
				Hint:    h.hint,
				Err:     err,
			}
		}
	}

	return err
}

// Fatal reports whether err belongs to the taxonomy of run-terminating errors.
func Fatal(err error) bool {
	for _, h := range hints {
		if errors.Is(err, h.target) {
			return true
		}
	}
	return false
}
