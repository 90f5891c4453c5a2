// Package syncwerkerr defines the error taxonomy shared by the storage and
// sync-protocol layers, and the HTTP status/domain-code mapping for it.
package syncwerkerr

import "errors"

// Kind classifies an error at a component boundary. See spec §7.
type Kind int

const (
	// Internal is the zero value: unexpected condition, maps to 500.
	Internal Kind = iota
	BadInput
	AuthDenied
	PermDenied
	NotFound
	RepoDeleted
	Corrupted
	QuotaExceeded
	Conflict
	IOError
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "commitmgr.GetCommit"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func BadArgs(op string, err error) *Error  { return New(BadInput, op, err) }
func NotFoundErr(op string, err error) *Error { return New(NotFound, op, err) }
func IOErr(op string, err error) *Error    { return New(IOError, op, err) }
func CorruptedErr(op string, err error) *Error { return New(Corrupted, op, err) }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code the sync endpoints must use,
// including the domain-specific codes from spec §6.2/§7.
func HTTPStatus(k Kind) int {
	switch k {
	case BadInput:
		return 400
	case AuthDenied:
		return 401
	case PermDenied:
		return 403
	case NotFound:
		return 404
	case RepoDeleted:
		return 441
	case QuotaExceeded:
		return 443
	case Corrupted:
		return 445
	case Conflict:
		return 409
	case IOError, Internal:
		return 500
	default:
		return 500
	}
}
