package vt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is an error returned by the VirusTotal API, or synthesized from
// an unsuccessful response that carried no structured error.
type APIError struct {
	Code    string `json:"code"              yaml:"code"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes synthesized locally or commonly returned by the API.
const (
	ErrorCodeClient              = "ClientError"
	ErrorCodeServer              = "ServerError"
	ErrorCodeNotFound            = "NotFoundError"
	ErrorCodeQuotaExceeded       = "QuotaExceededError"
	ErrorCodeWrongCredentials    = "WrongCredentialsError"
	ErrorCodeAuthenticationReq   = "AuthenticationRequiredError"
	ErrorCodeForbidden           = "ForbiddenError"
	ErrorCodeBadRequest          = "BadRequestError"
	ErrorCodeInvalidArgument     = "InvalidArgumentError"
	ErrorCodeTooManyRequests     = "TooManyRequestsError"
	ErrorCodeUserNotActive       = "UserNotActiveError"
	ErrorCodeAlreadyExists       = "AlreadyExistsError"
	ErrorCodeFailedDependency    = "FailedDependencyError"
	ErrorCodeUnselectiveContent  = "UnselectiveContentQueryError"
	ErrorCodeUnsupportedContent  = "UnsupportedContentQueryError"
	ErrorCodeNotAvailableYet     = "NotAvailableYet"
	ErrorCodeDeadlineExceeded    = "DeadlineExceededError"
	ErrorCodeTransientError      = "TransientError"
	ErrorCodeInvalidArgumentType = "InvalidArgumentTypeError"
)

// ErrValidation is the parent of every local validation failure, so callers
// can tell malformed input or unexpected response shapes apart from API
// errors with errors.Is(err, vt.ErrValidation).
var ErrValidation = errors.New("validation failed")

// Static errors for err113 compliance.
var (
	ErrAPIKeyRequired    = fmt.Errorf("%w: expecting API key", ErrValidation)
	ErrNotAMap           = fmt.Errorf("%w: expecting dictionary", ErrValidation)
	ErrMissingField      = fmt.Errorf("%w: required field not found", ErrValidation)
	ErrInvalidObject     = fmt.Errorf("%w: invalid object", ErrValidation)
	ErrNoDataField       = fmt.Errorf("%w: response does not contain a data field", ErrValidation)
	ErrNotAnObject       = fmt.Errorf("%w: response did not return an object", ErrValidation)
	ErrInvalidCollection = fmt.Errorf("%w: response did not return a collection", ErrValidation)
	ErrInvalidCursor     = fmt.Errorf("%w: invalid cursor", ErrValidation)
	ErrInvalidFeedType   = fmt.Errorf("%w: invalid feed type", ErrValidation)
	ErrUnsupportedMethod = fmt.Errorf("%w: unsupported batch method", ErrValidation)
)

// Static errors not related to validation.
var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrAttributeType     = errors.New("attribute has a different type")
	ErrBlockingInAsync   = errors.New("blocking call made from inside an asynchronous operation, use the Async form and Await instead")
	ErrNotReady          = errors.New("future not completed")
	ErrIncompleteRead    = errors.New("stream ended before the requested number of bytes")
	ErrNoMoreItems       = errors.New("no more items")
)

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

// IsQuotaExceeded checks if the error reports an exhausted API quota.
func IsQuotaExceeded(err error) bool {
	return hasCode(err, ErrorCodeQuotaExceeded)
}

// IsWrongCredentials checks if the error reports an invalid API key.
func IsWrongCredentials(err error) bool {
	return hasCode(err, ErrorCodeWrongCredentials)
}

// IsForbidden checks if the error is a forbidden error.
func IsForbidden(err error) bool {
	return hasCode(err, ErrorCodeForbidden)
}

// IsClientError checks if the error is an unstructured 4xx response.
func IsClientError(err error) bool {
	return hasCode(err, ErrorCodeClient)
}

// IsServerError checks if the error is a server side failure.
func IsServerError(err error) bool {
	return hasCode(err, ErrorCodeServer)
}

// ErrorCode returns the API error code carried by err, or "" when err is
// not an APIError.
func ErrorCode(err error) string {
	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return ""
}

func hasCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// errorEnvelope is the body of a structured error response.
type errorEnvelope struct {
	Error *struct {
		Code    *string `json:"code"`
		Message string  `json:"message"`
	} `json:"error"`
}

// ParseErrorEnvelope extracts the structured error from an error response
// body. It returns nil when the body is not JSON or carries no error object
// with a string code.
func ParseErrorEnvelope(data []byte) *APIError {
	var envelope errorEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil || envelope.Error == nil || envelope.Error.Code == nil {
		return nil
	}

	return &APIError{
		Code:    *envelope.Error.Code,
		Message: envelope.Error.Message,
	}
}
