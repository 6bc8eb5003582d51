package party

import (
	"errors"
	"fmt"
)

// Stable error codes carried in outbound error envelopes.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeForbidden      = "forbidden"
	CodeConflict       = "conflict"
	CodeInternal       = "internal"
)

// partyError is a handler rejection. It is converted to an error envelope
// and unicast to the originating connection, never broadcast.
type partyError struct {
	code string
	msg  string
}

func (e *partyError) Error() string {
	return e.code + ": " + e.msg
}

// Code returns the wire error code.
func (e *partyError) Code() string {
	return e.code
}

func errValidation(format string, args ...any) error {
	return &partyError{code: CodeInvalidPayload, msg: fmt.Sprintf(format, args...)}
}

func errForbidden(format string, args ...any) error {
	return &partyError{code: CodeForbidden, msg: fmt.Sprintf(format, args...)}
}

func errConflict(format string, args ...any) error {
	return &partyError{code: CodeConflict, msg: fmt.Sprintf(format, args...)}
}

func errInternal(format string, args ...any) error {
	return &partyError{code: CodeInternal, msg: fmt.Sprintf(format, args...)}
}

// wireError maps a handler error to the envelope sent back to the sender.
// Unrecognised errors are reported as internal without leaking detail.
func wireError(err error) *Message {
	code := CodeInternal
	msg := "internal error"
	var pe *partyError
	if errors.As(err, &pe) {
		code = pe.code
		msg = pe.msg
	}
	return &Message{
		Type:    MessageTypeError,
		Payload: &ErrorPayload{Code: code, Message: msg},
	}
}
