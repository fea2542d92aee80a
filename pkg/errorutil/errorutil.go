package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the lifecycle, the bot router and the admin API.
const (
	CodeAuthorization     = "AUTHORIZATION_DENIED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePersistence       = "PERSISTENCE_FAILED"
	CodeDelivery          = "DELIVERY_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeValidation        = "VALIDATION_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewAuthorizationError reports an actor lacking the role a transition requires.
func NewAuthorizationError(message string) error {
	return NewDomainError(CodeAuthorization, message, http.StatusForbidden, nil)
}

// NewInvalidTransition reports an action that the ticket's current state does not allow.
func NewInvalidTransition(action, state string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("cannot %s a ticket in state %s", action, state),
		http.StatusConflict,
		map[string]any{"action": action, "state": state})
}

// NewPersistenceError wraps a failed durable write.
func NewPersistenceError(err error) error {
	return &DomainError{
		Code:       CodePersistence,
		Message:    "persistence failed",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewDeliveryError wraps a failed best-effort notification.
func NewDeliveryError(target string, err error) error {
	return &DomainError{
		Code:       CodeDelivery,
		Message:    "delivery failed",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"target": target},
		Err:        err,
	}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError carrying code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

// UserMessage returns the text shown to a chat actor whose action failed.
func UserMessage(err error) string {
	domainErr := ToDomainError(err)
	switch domainErr.Code {
	case CodeAuthorization:
		return "You are not allowed to do that: " + domainErr.Message + "."
	case CodeInvalidTransition, CodeConflict, CodeValidation, CodeNotFound:
		return "That action is not possible right now: " + domainErr.Message + "."
	case CodePersistence:
		return "Something went wrong while saving the ticket. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
