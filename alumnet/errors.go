package alumnet

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Transport errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorNotConnected
	ErrorNotInitialized
	ErrorProtocol

	// Authentication errors
	ErrorUnauthorized
	ErrorCredentialExpired

	// Subscription errors
	ErrorSubscriptionRejected

	// API request errors
	ErrorHistoryUnavailable
	ErrorSendFailed
	ErrorRequest

	// Client-side errors
	ErrorInvalidConfig
	ErrorInvalidArgument
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorNotInitialized:
		return "not_initialized"
	case ErrorProtocol:
		return "protocol_error"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorCredentialExpired:
		return "credential_expired"
	case ErrorSubscriptionRejected:
		return "subscription_rejected"
	case ErrorHistoryUnavailable:
		return "history_unavailable"
	case ErrorSendFailed:
		return "send_failed"
	case ErrorRequest:
		return "request_failed"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorInvalidArgument:
		return "invalid_argument"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ErrorKind groups error codes by where they are surfaced.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransport errors show up as connection state "error" and are only
	// recovered by an explicit reconnect or a new login.
	KindTransport
	// KindAuth errors mean the credential is unusable; the user has to log in again.
	KindAuth
	// KindSubscription errors mean a channel could not be joined. The
	// connection stays up.
	KindSubscription
	// KindAPI errors belong to a single REST operation and leave local state untouched.
	KindAPI
	// KindClient errors are caller mistakes.
	KindClient
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindSubscription:
		return "subscription"
	case KindAPI:
		return "api"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Kind returns the taxonomy bucket of a code.
func (e ErrorCode) Kind() ErrorKind {
	switch e {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout, ErrorNotConnected, ErrorNotInitialized, ErrorProtocol:
		return KindTransport
	case ErrorUnauthorized, ErrorCredentialExpired:
		return KindAuth
	case ErrorSubscriptionRejected:
		return KindSubscription
	case ErrorHistoryUnavailable, ErrorSendFailed, ErrorRequest:
		return KindAPI
	case ErrorInvalidConfig, ErrorInvalidArgument, ErrorSerialization:
		return KindClient
	default:
		return KindUnknown
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Kind returns the taxonomy bucket of the error.
func (e *Error) Kind() ErrorKind {
	return e.Code.Kind()
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// wrapAPIError converts a REST failure into a reportable error. A 401 from
// any endpoint becomes ErrorUnauthorized so callers can send the user back
// to the login entry point.
func wrapAPIError(code ErrorCode, message string, err error) *Error {
	if rest.IsUnauthorized(err) {
		return WrapError(ErrorUnauthorized, message, err)
	}
	return WrapError(code, message, err)
}

// KindOf returns the taxonomy bucket of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	return e.Kind()
}

// IsTransportError checks if an error is a connection-related error.
func IsTransportError(err error) bool {
	return err != nil && KindOf(err) == KindTransport
}

// IsAuthError checks if an error requires the user to log in again.
func IsAuthError(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// IsSubscriptionError checks if an error is a rejected channel join.
func IsSubscriptionError(err error) bool {
	return err != nil && KindOf(err) == KindSubscription
}

// IsAPIError checks if an error is a failed REST operation.
func IsAPIError(err error) bool {
	return err != nil && KindOf(err) == KindAPI
}
