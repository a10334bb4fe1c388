package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine errors. Callers translate kinds into user-facing text.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindDuplicateName       Kind = "duplicate_name"
	KindInvalidLevel        Kind = "invalid_level"
	KindInvalid             Kind = "invalid"
	KindSystemRoleImmutable Kind = "system_role_immutable"
	KindSystemRoleProtected Kind = "system_role_protected"
	KindRoleInUse           Kind = "role_in_use"
	KindViewRequired        Kind = "view_required"
	KindCycle               Kind = "cycle"
	KindSelfReference       Kind = "self_reference"
	KindPartialFailure      Kind = "partial_failure"
	KindStoreUnavailable    Kind = "store_unavailable"
)

// Sentinels for errors.Is comparisons
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrDuplicateName       = &Error{Kind: KindDuplicateName}
	ErrInvalidLevel        = &Error{Kind: KindInvalidLevel}
	ErrInvalid             = &Error{Kind: KindInvalid}
	ErrSystemRoleImmutable = &Error{Kind: KindSystemRoleImmutable}
	ErrSystemRoleProtected = &Error{Kind: KindSystemRoleProtected}
	ErrRoleInUse           = &Error{Kind: KindRoleInUse}
	ErrViewRequired        = &Error{Kind: KindViewRequired}
	ErrCycle               = &Error{Kind: KindCycle}
	ErrSelfReference       = &Error{Kind: KindSelfReference}
	ErrPartialFailure      = &Error{Kind: KindPartialFailure}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
)

// GrantFailure describes one rejected row of a bulk upsert
type GrantFailure struct {
	ResourceID ResourceID `json:"resource_id"`
	Kind       Kind       `json:"kind"`
}

// Error is the typed error returned by every engine operation
type Error struct {
	Kind       Kind
	Op         string
	RoleID     RoleID
	ResourceID ResourceID
	Failures   []GrantFailure
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.RoleID != "" {
		fmt.Fprintf(&b, " role=%s", e.RoleID)
	}
	if e.ResourceID != "" {
		fmt.Fprintf(&b, " resource=%s", e.ResourceID)
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " failures=%d", len(e.Failures))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindStoreUnavailable for foreign errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreUnavailable
}

// newError builds an *Error of the given kind
func newError(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// NotFoundError is used by backends to report a missing row
func NotFoundError(op string, detail error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: detail}
}

// DuplicateNameError is used by backends to report a unique-name collision
func DuplicateNameError(op string, detail error) error {
	return &Error{Kind: KindDuplicateName, Op: op, Err: detail}
}

// storeError wraps a backend failure. Domain errors pass through untouched so
// NotFound from a backend is not reported as an outage.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}
