package provisioning

import (
	"errors"
	"fmt"
)

// Kind classifies provisioning failures so the HTTP layer can pick a status.
type Kind int

const (
	KindInternal Kind = iota
	// KindInvalidAttribute: a required attribute is missing or unresolvable.
	KindInvalidAttribute
	// KindConflict: externalId or userName is already provisioned.
	KindConflict
	// KindNotFound: no identity has the requested id.
	KindNotFound
	// KindForbidden: the operation is disabled by policy.
	KindForbidden
	// KindUpstream: the mailbox API failed or was unreachable.
	KindUpstream
	// KindUnauthorized: the bearer credential is missing or wrong.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAttribute:
		return "invalid attribute"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindForbidden:
		return "forbidden"
	case KindUpstream:
		return "upstream"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is a provisioning failure of a known Kind.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindInternal
}

// InvalidAttributeError reports a missing or unresolvable attribute.
func InvalidAttributeError(attribute string) *Error {
	return &Error{Kind: KindInvalidAttribute, Detail: "Missing required attribute: " + attribute}
}

// UnauthorizedError reports a rejected bearer credential.
func UnauthorizedError() *Error {
	return &Error{Kind: KindUnauthorized, Detail: "Missing or invalid bearer token"}
}

func notFoundError(id string, err error) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf("User with id '%s' not found", id), Err: err}
}

func conflictError(externalID, userName string, err error) *Error {
	return &Error{
		Kind:   KindConflict,
		Detail: fmt.Sprintf("User with id '%s' or userName '%s' already exists", externalID, userName),
		Err:    err,
	}
}

func upstreamError(err error) *Error {
	return &Error{Kind: KindUpstream, Detail: "Request failed: upstream API returned an error", Err: err}
}

func forbiddenError(id string) *Error {
	return &Error{Kind: KindForbidden, Detail: fmt.Sprintf("Deletion of user with id '%s' is not allowed.", id)}
}
