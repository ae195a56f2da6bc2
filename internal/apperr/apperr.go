// Package apperr classifies the failures a helpdesk operation can surface
// to the viewer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	// KindAuth: login or registration rejected.
	KindAuth Kind = iota + 1
	// KindAuthorization: role mismatch on a protected action or view, or
	// the server refused the credential.
	KindAuthorization
	// KindValidation: a required input was missing or malformed; nothing
	// was dispatched.
	KindValidation
	// KindNetwork: the request did not complete.
	KindNetwork
	// KindServer: non-2xx response.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	switch {
	case message != "" && e.StatusCode > 0:
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	case message != "":
		return message
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("http %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("http %d", e.StatusCode)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// AsAuth re-kinds a failed login or registration call. Network failures
// keep their kind.
func AsAuth(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindAuth, Err: err}
	}
	if e.Kind == KindNetwork {
		return err
	}
	clone := *e
	clone.Kind = KindAuth
	return &clone
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UserMessage returns the server-supplied or validation message carried by
// err, or fallback when there is none.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if msg := strings.TrimSpace(e.Message); msg != "" {
			return msg
		}
	}
	return fallback
}
