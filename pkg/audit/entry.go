// Package audit implements the bounded, in-memory security audit trail
// every authentication, token-exchange, and delegation operation writes
// to, per spec.md §4.5.
package audit

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is stamped onto every Entry at construction, per
// SPEC_FULL.md's Open Question decision on audit schema versioning.
const CurrentSchemaVersion = 1

var sourcePattern = regexp.MustCompile(`^[a-z]+:[a-z-]+$`)

// Entry is a single security-relevant event. Source must be of the form
// "layer:component" (e.g. "auth:service", "delegation:sql"); entries
// without one are rejected rather than logged malformed, since audit
// integrity is not best-effort.
type Entry struct {
	ID            string         `json:"id"`
	SchemaVersion int            `json:"schemaVersion"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	UserID        string         `json:"userId"`
	Action        string         `json:"action"`
	Resource      string         `json:"resource,omitempty"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate checks the invariants NewEntry-constructed and hand-built
// entries alike must satisfy before Log accepts them.
func (e Entry) Validate() error {
	if !sourcePattern.MatchString(e.Source) {
		return fmt.Errorf("audit: source %q must match \"layer:component\"", e.Source)
	}
	if e.Action == "" {
		return fmt.Errorf("audit: action is required")
	}
	return nil
}

// New builds an Entry stamped with the current schema version and
// timestamp, ready for Log.
func New(source, userID, action string, success bool) Entry {
	return Entry{
		ID:            uuid.NewString(),
		SchemaVersion: CurrentSchemaVersion,
		Timestamp:     time.Now(),
		Source:        source,
		UserID:        userID,
		Action:        action,
		Success:       success,
	}
}

// WithError returns a copy of e with the error field set and Success
// forced false.
func (e Entry) WithError(err error) Entry {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithResource returns a copy of e with Resource set.
func (e Entry) WithResource(resource string) Entry {
	e.Resource = resource
	return e
}

// WithMetadata returns a copy of e with Metadata set.
func (e Entry) WithMetadata(metadata map[string]any) Entry {
	e.Metadata = metadata
	return e
}
