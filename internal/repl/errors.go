package repl

import (
	"errors"
	"fmt"

	"github.com/Mlorras/lightwave/internal/store"
)

// ApplyError describes why a peer change was not applied.
//
// Warning codes report convergence risks: the change is dropped, the
// replication stream continues, and the error is returned in Result.Warning
// rather than as the call's error. Every other code is fatal for the change
// and is returned as the error.
type ApplyError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// DN is the target name the change was applied against.
	DN string

	// Attribute names the attribute involved, if any.
	Attribute string

	// PartnerUSN is the supplier-side sequence number of the change.
	PartnerUSN uint64

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes apply errors.
type ErrorCode string

const (
	// ErrCodeAlreadyExists: add of an entry whose name is taken.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeNoSuchObject: target or parent entry missing.
	ErrCodeNoSuchObject ErrorCode = "NO_SUCH_OBJECT"

	// ErrCodeNotAllowedOnNonLeaf: delete of an entry with live children.
	ErrCodeNotAllowedOnNonLeaf ErrorCode = "NOT_ALLOWED_ON_NON_LEAF"

	// ErrCodeNoSuchAttribute: modify names an attribute the entry lacks.
	ErrCodeNoSuchAttribute ErrorCode = "NO_SUCH_ATTRIBUTE"

	// ErrCodeMalformedChange: the change record could not be decoded.
	ErrCodeMalformedChange ErrorCode = "MALFORMED_CHANGE"

	// ErrCodeMalformedMetadata: attribute or value metadata is invalid.
	ErrCodeMalformedMetadata ErrorCode = "MALFORMED_METADATA"

	// ErrCodeTombstoneModify: modify addressed to a Deleted Objects entry.
	ErrCodeTombstoneModify ErrorCode = "TOMBSTONE_MODIFY"

	// ErrCodeRetriesExhausted: the store kept reporting deadlock.
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeAborted: the caller gave up before the change reached the store.
	ErrCodeAborted ErrorCode = "ABORTED"

	// ErrCodeStore: any other storage failure.
	ErrCodeStore ErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.DN != "" {
		msg += fmt.Sprintf(" (dn=%s", e.DN)
		if e.Attribute != "" {
			msg += fmt.Sprintf(", attr=%s", e.Attribute)
		}
		msg += fmt.Sprintf(", partner_usn=%d)", e.PartnerUSN)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsWarning reports whether err is a convergence-risk warning.
// Uses errors.As to handle wrapped errors.
func IsWarning(err error) bool {
	var ae *ApplyError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case ErrCodeAlreadyExists, ErrCodeNoSuchObject, ErrCodeNotAllowedOnNonLeaf, ErrCodeNoSuchAttribute:
		return true
	}
	return false
}

// IsRetriesExhausted reports whether err is a retry ceiling failure. The
// replication session should offer the change again in a later cycle.
func IsRetriesExhausted(err error) bool {
	return hasCode(err, ErrCodeRetriesExhausted)
}

// IsMalformed reports whether err is a malformed change or metadata error.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformedChange) || hasCode(err, ErrCodeMalformedMetadata)
}

func hasCode(err error, code ErrorCode) bool {
	var ae *ApplyError
	return errors.As(err, &ae) && ae.Code == code
}

// malformedMetadata wraps a metadata decode failure for attr.
func malformedMetadata(attr string, err error) *ApplyError {
	return &ApplyError{
		Code:      ErrCodeMalformedMetadata,
		Message:   "invalid metadata",
		Attribute: attr,
		Err:       err,
	}
}

// classify turns an error from the apply loop into an ApplyError bound to
// the change. Store sentinels become warning codes.
func classify(err error, dn string, partnerUSN uint64) *ApplyError {
	var ae *ApplyError
	if errors.As(err, &ae) {
		if ae.DN == "" {
			ae.DN = dn
		}
		ae.PartnerUSN = partnerUSN
		return ae
	}

	ae = &ApplyError{DN: dn, PartnerUSN: partnerUSN, Err: err}
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		ae.Code, ae.Message = ErrCodeAlreadyExists, "object already exists"
	case errors.Is(err, store.ErrNoSuchObject), errors.Is(err, store.ErrNotFound):
		ae.Code, ae.Message = ErrCodeNoSuchObject, "object does not exist"
	case errors.Is(err, store.ErrNotAllowedOnNonLeaf):
		ae.Code, ae.Message = ErrCodeNotAllowedOnNonLeaf, "operation not allowed on non-leaf"
	case errors.Is(err, store.ErrNoSuchAttribute):
		ae.Code, ae.Message = ErrCodeNoSuchAttribute, "no such attribute"
	default:
		ae.Code, ae.Message = ErrCodeStore, "store failure"
	}
	return ae
}
