package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error so callers and the transport layer
// can react without parsing messages.
type Kind string

const (
	// KindNotFound means a referenced chat, message or user does not exist.
	KindNotFound Kind = "not_found"
	// KindPermissionDenied means the requester lacks the required
	// membership, admin, owner or authorship relation.
	KindPermissionDenied Kind = "permission_denied"
	// KindInvalidOperation means the operation does not apply to the
	// target, e.g. admin actions on a single chat or a self-transfer.
	KindInvalidOperation Kind = "invalid_operation"
	// KindConflict means the state already satisfies the requested change.
	KindConflict Kind = "conflict"
	// KindUnauthenticated means the caller credential could not be resolved.
	KindUnauthenticated Kind = "unauthenticated"
	// KindUnavailable means the persistence layer failed transiently;
	// the whole operation is safe to retry.
	KindUnavailable Kind = "unavailable"
)

// Error carries a kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// E builds a domain error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or "" if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
