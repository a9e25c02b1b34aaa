package document

import (
	"errors"
	"fmt"

	"pdfdispatch/internal/errcode"
)

// Kind classifies the pipeline stage a record failed in.
type Kind string

const (
	KindDecode  Kind = "decode"
	KindRender  Kind = "render"
	KindStorage Kind = "storage"
	KindNotify  Kind = "notify"
	// KindInternal covers failures outside the four stages, such as a
	// recovered panic.
	KindInternal Kind = "internal"
)

// Code maps a kind onto the shared error code table.
func (k Kind) Code() int {
	switch k {
	case KindDecode:
		return errcode.InvalidInput
	case KindRender:
		return errcode.RenderFailed
	case KindStorage:
		return errcode.StorageFailed
	case KindNotify:
		return errcode.NotifyFailed
	default:
		return errcode.SystemError
	}
}

// Error is the typed failure returned by every pipeline stage.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the numeric error code for the failure.
func (e *Error) Code() int {
	return e.Kind.Code()
}

func newError(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func DecodeError(op string, err error) *Error  { return newError(KindDecode, op, err) }
func RenderError(op string, err error) *Error  { return newError(KindRender, op, err) }
func StorageError(op string, err error) *Error { return newError(KindStorage, op, err) }
func NotifyError(op string, err error) *Error  { return newError(KindNotify, op, err) }

// AsError returns err as *Error. Untyped errors are wrapped with fallback.
func AsError(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return newError(fallback, "", err)
}

// KindOf reports the kind of err, or "" when err is not a pipeline error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
