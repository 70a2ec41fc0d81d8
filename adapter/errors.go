package adapter

import (
	"fmt"

	"github.com/pkg/errors"
)

// MissingDocError is returned when a document (or an explicit revision of
// one) cannot be found, or its winning revision is deleted and no explicit
// rev was requested. Grounded on server/storage/errors.go's ErrNotFound{}/
// ErrOldVersion{} pattern of small typed error structs.
type MissingDocError struct {
	DocID  string
	Reason string // e.g. "deleted"; "" for plain absence
}

func (e MissingDocError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing_doc: %s", e.DocID)
	}
	return fmt.Sprintf("missing_doc: %s (%s)", e.DocID, e.Reason)
}

// WithReason mirrors spec.md §6's `error(base, reason)` constructor: it
// returns a copy of a MissingDocError carrying an additional reason.
func WithReason(base MissingDocError, reason string) MissingDocError {
	base.Reason = reason
	return base
}

// RevConflictError is returned when an update's merge outcome is a
// conflict (spec.md §4.3 Phase 3) or when the same document id appears
// twice in one new_edits batch (Phase 2).
type RevConflictError struct {
	DocID string
	Rev   string
}

func (e RevConflictError) Error() string {
	return fmt.Sprintf("conflict: document update conflict (%s, rev %s)", e.DocID, e.Rev)
}

// NotOpenError is returned by Close when the handle was never opened, or
// by any operation against a handle after Close.
type NotOpenError struct {
	Name string
}

func (e NotOpenError) Error() string {
	return fmt.Sprintf("not_open: %s", e.Name)
}

// NotFoundError is returned by Destroy when the named database directory
// does not exist. spec.md §9 notes the source reuses MISSING_DOC for this
// case; this repo keeps the HTTP-ish "not found" semantics but gives it its
// own type rather than reusing MissingDocError's DocID/Reason shape for a
// directory that was never a document.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not_found: database %q", e.Name)
}

// EngineError wraps an underlying kv.Engine failure with the
// {status:500, error, reason} shape spec.md §7 describes.
type EngineError struct {
	Op  string
	err error
}

func wrapEngine(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, err: errors.Wrap(err, op)}
}

func (e *EngineError) Error() string { return fmt.Sprintf("status 500: %s", e.err.Error()) }
func (e *EngineError) Unwrap() error { return e.err }
