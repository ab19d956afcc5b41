package file

import (
	"errors"
	"io/fs"
	"strconv"
	"syscall"
)

// Kind classifies why an operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotBound: the operation needs a path and none is set.
	KindNotBound
	// KindNotOpen: the operation needs a live handle.
	KindNotOpen
	// KindModeViolation: the handle's flags do not allow the operation.
	KindModeViolation
	KindNotFound
	// KindAlreadyExists: an entity of the wrong kind is in the way.
	KindAlreadyExists
	KindAccessDenied
	// KindSharingViolation: another live handle's share set excludes this access.
	KindSharingViolation
	KindIOFailure
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown error",
	KindNotBound:         "no path bound",
	KindNotOpen:          "file not open",
	KindModeViolation:    "operation not permitted by open mode",
	KindNotFound:         "not found",
	KindAlreadyExists:    "already exists",
	KindAccessDenied:     "access denied",
	KindSharingViolation: "sharing violation",
	KindIOFailure:        "i/o failure",
	KindInvalidArgument:  "invalid argument",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrNotBound         = errors.New(KindNotBound.String())
	ErrNotOpen          = errors.New(KindNotOpen.String())
	ErrModeViolation    = errors.New(KindModeViolation.String())
	ErrNotFound         = errors.New(KindNotFound.String())
	ErrAlreadyExists    = errors.New(KindAlreadyExists.String())
	ErrAccessDenied     = errors.New(KindAccessDenied.String())
	ErrSharingViolation = errors.New(KindSharingViolation.String())
	ErrIOFailure        = errors.New(KindIOFailure.String())
	ErrInvalidArgument  = errors.New(KindInvalidArgument.String())
)

var kindSentinels = map[Kind]error{
	KindNotBound:         ErrNotBound,
	KindNotOpen:          ErrNotOpen,
	KindModeViolation:    ErrModeViolation,
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindAccessDenied:     ErrAccessDenied,
	KindSharingViolation: ErrSharingViolation,
	KindIOFailure:        ErrIOFailure,
	KindInvalidArgument:  ErrInvalidArgument,
}

// Error records a failed operation, the path it was applied to and the failure kind.
// Err holds the underlying cause when there is one.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "file: " + e.Op
	if e.Path != "" {
		msg += " " + strconv.Quote(e.Path)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && target == s
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newError(op, path string, kind Kind, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}

// wrapOS classifies an error returned by the filesystem backend.
func wrapOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		return fe
	}
	return newError(op, path, classify(err), err)
}

func classify(err error) Kind {
	switch {
	// ENOTEMPTY matches fs.ErrExist, but a non-empty directory is a device-level refusal.
	case errors.Is(err, syscall.ENOTEMPTY):
		return KindIOFailure
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindAccessDenied
	case errors.Is(err, fs.ErrExist),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR):
		return KindAlreadyExists
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidArgument
	default:
		return KindIOFailure
	}
}
