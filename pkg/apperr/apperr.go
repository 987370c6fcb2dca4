package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported by the racetrack core
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidName
	KindInvalidStartPos
	KindInvalidTime
	KindDecodeFailure
	KindNotFound
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	KindInvalidName:     "InvalidName",
	KindInvalidStartPos: "InvalidStartPos",
	KindInvalidTime:     "InvalidTime",
	KindDecodeFailure:   "DecodeFailure",
	KindNotFound:        "NotFound",
	KindStorage:         "Storage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified failure. Field names the caller-supplied field that failed, if any.
type Error struct {
	Kind     Kind
	Field    string
	Message  string
	Internal error
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Field != "" {
		prefix = fmt.Sprintf("%s(%s)", prefix, e.Field)
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches any *Error of the same kind, so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field) && t.Message == ""
}

// Sentinels for errors.Is checks
var (
	ErrInvalidName     = &Error{Kind: KindInvalidName}
	ErrInvalidStartPos = &Error{Kind: KindInvalidStartPos}
	ErrInvalidTime     = &Error{Kind: KindInvalidTime}
	ErrDecodeFailure   = &Error{Kind: KindDecodeFailure}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrStorage         = &Error{Kind: KindStorage}
)

func InvalidName(message string) *Error {
	return &Error{Kind: KindInvalidName, Field: "name", Message: message}
}

func InvalidStartPos(message string) *Error {
	return &Error{Kind: KindInvalidStartPos, Field: "start_pos", Message: message}
}

func InvalidTime(message string) *Error {
	return &Error{Kind: KindInvalidTime, Field: "time", Message: message}
}

// DecodeFailure reports an image that could not be decoded or stored.
func DecodeFailure(message string, err error) *Error {
	return &Error{Kind: KindDecodeFailure, Field: "image", Message: message, Internal: err}
}

// NotFound reports a missing entity, e.g. NotFound("racetrack", id).
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Field: "id", Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Storage reports a failed repository read or write.
func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Internal: err}
}

// KindOf extracts the Kind of err, or KindUnknown if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsPermanent reports whether err is a classified failure that retrying cannot fix.
func IsPermanent(err error) bool {
	k := KindOf(err)
	return k != KindUnknown && k != KindStorage
}
