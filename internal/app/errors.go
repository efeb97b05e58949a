package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// The four error kinds of the engine. Conflicts are safe to retry
// immediately; dependency failures never invalidate local build state.
func conflictError(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func invalidStateError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_STATE", message, nil)
}

func dependencyError(message string, details any) *DomainError {
	return domainError(http.StatusBadGateway, "DEPENDENCY_FAILED", message, details)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
