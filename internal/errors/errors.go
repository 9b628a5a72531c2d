// Package errors defines the error taxonomy surfaced to embedded mini apps.
//
// Every failure inside the host is mapped onto exactly one Code before it
// crosses the transport boundary. Only Code, Message and Data are serialised;
// the wrapped cause stays on the host side for logging.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Code identifies a class of bridge failure.
type Code string

const (
	CodeNotAuthenticated  Code = "NotAuthenticated"
	CodeAddressMismatch   Code = "AddressMismatch"
	CodeUnsupportedMethod Code = "UnsupportedMethod"
	CodeInvalidDomain     Code = "InvalidDomain"
	CodeRejectedByUser    Code = "RejectedByUser"
	CodeTransactionFailed Code = "TransactionFailed"
	CodeMissingParameter  Code = "MissingParameter"
	CodeNotImplemented    Code = "NotImplemented"
	CodeNetworkError      Code = "NetworkError"
)

// Values of Data["reason"] that refine a code without widening the taxonomy.
const (
	ReasonInvalidParams      = "invalid_params"
	ReasonInternal           = "internal"
	ReasonConfirmationFailed = "confirmation_failed"
	ReasonCancelled          = "cancelled"
)

// EIP-1193 / JSON-RPC numeric codes attached to Data for provider callers.
const (
	RPCUserRejected      = 4001
	RPCUnauthorized      = 4100
	RPCUnsupportedMethod = 4200
	RPCInvalidParams     = -32602
	RPCInternal          = -32603
	RPCServerError       = -32000
)

var rpcCodes = map[Code]int{
	CodeNotAuthenticated:  RPCUnauthorized,
	CodeAddressMismatch:   RPCUnauthorized,
	CodeUnsupportedMethod: RPCUnsupportedMethod,
	CodeInvalidDomain:     RPCInvalidParams,
	CodeRejectedByUser:    RPCUserRejected,
	CodeTransactionFailed: RPCServerError,
	CodeMissingParameter:  RPCInvalidParams,
	CodeNotImplemented:    RPCUnsupportedMethod,
	CodeNetworkError:      RPCServerError,
}

// RPCCode returns the EIP-1193 numeric code for c.
func (c Code) RPCCode() int {
	if n, ok := rpcCodes[c]; ok {
		return n
	}
	return RPCInternal
}

// BridgeError is the only error shape allowed across the transport.
type BridgeError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`

	cause error
}

func (e *BridgeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal cause.
func (e *BridgeError) Unwrap() error { return e.cause }

// Is matches another BridgeError by code.
func (e *BridgeError) Is(target error) bool {
	var other *BridgeError
	if stderrors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// WithData returns a copy of e with an extra data field.
func (e *BridgeError) WithData(key string, value interface{}) *BridgeError {
	cp := *e
	cp.Data = make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Data[key] = value
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *BridgeError) WithCause(cause error) *BridgeError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Public strips the internal cause and stamps the numeric RPC code; the
// result is safe to serialise.
func (e *BridgeError) Public() *BridgeError {
	out := &BridgeError{Code: e.Code, Message: e.Message}
	out.Data = make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		out.Data[k] = v
	}
	out.Data["rpcCode"] = e.Code.RPCCode()
	return out
}

// New creates a BridgeError.
func New(code Code, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// Wrap creates a BridgeError carrying cause.
func Wrap(code Code, message string, cause error) *BridgeError {
	return &BridgeError{Code: code, Message: message, cause: cause}
}

func NotAuthenticated() *BridgeError {
	return New(CodeNotAuthenticated, "no signed-in user")
}

func AddressMismatch(requested, actual string) *BridgeError {
	return New(CodeAddressMismatch, "requested address does not match the connected account").
		WithData("requested", requested).
		WithData("expected", actual)
}

func UnsupportedMethod(method string) *BridgeError {
	return New(CodeUnsupportedMethod, fmt.Sprintf("method %q is not supported", method)).
		WithData("method", method)
}

func InvalidDomain(domain string) *BridgeError {
	return New(CodeInvalidDomain, "domain is not a valid hostname").WithData("domain", domain)
}

func RejectedByUser() *BridgeError {
	return New(CodeRejectedByUser, "user rejected the request")
}

func TransactionFailed(cause error) *BridgeError {
	return Wrap(CodeTransactionFailed, "transaction failed", cause)
}

func MissingParameter(name string) *BridgeError {
	return New(CodeMissingParameter, fmt.Sprintf("missing required parameter %q", name)).
		WithData("param", name)
}

func NotImplemented(feature string) *BridgeError {
	return New(CodeNotImplemented, fmt.Sprintf("%s is not implemented", feature)).
		WithData("feature", feature)
}

func NetworkError(cause error) *BridgeError {
	return Wrap(CodeNetworkError, "chain provider request failed", cause)
}

// InvalidParams reports params that are present but unusable. It shares the
// MissingParameter code.
func InvalidParams(reason string) *BridgeError {
	return New(CodeMissingParameter, reason).WithData("reason", ReasonInvalidParams)
}

// Internal reports a host-side failure with no better classification. The
// message never includes the cause.
func Internal(cause error) *BridgeError {
	return Wrap(CodeTransactionFailed, "host could not complete the request", cause).
		WithData("reason", ReasonInternal)
}

// ConfirmationFailed maps an error from a confirmation dialog. Bridge errors
// and cancellations keep their own mapping; anything else means the dialog
// could not complete, which is not a user rejection.
func ConfirmationFailed(err error) *BridgeError {
	if err == nil {
		return nil
	}
	var be *BridgeError
	if stderrors.As(err, &be) || stderrors.Is(err, context.Canceled) {
		return From(err)
	}
	return Wrap(CodeTransactionFailed, "confirmation could not be completed", err).
		WithData("reason", ReasonConfirmationFailed)
}

// From maps any error to a BridgeError. Errors that are already BridgeErrors
// keep their code. Cancellation is a NetworkError: the session or the daemon
// went away, the user did not decline. Everything else is Internal.
func From(err error) *BridgeError {
	if err == nil {
		return nil
	}
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be
	}
	if stderrors.Is(err, context.Canceled) {
		return Wrap(CodeNetworkError, "request abandoned", err).WithData("reason", ReasonCancelled)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NetworkError(err)
	}
	return Internal(err)
}

// CodeOf returns the bridge code for err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// IsCode reports whether err maps to code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
