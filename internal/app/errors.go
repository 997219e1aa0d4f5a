package app

import (
	"errors"
	"fmt"
	"net/http"

	"itinera/api/internal/auth"
	"itinera/api/internal/errs"
	"itinera/api/internal/export"
)

// DomainError is an error that already knows its HTTP response.
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

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}

	message = errs.MessageOf(err)
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND", orDefault(message, "Not found"), nil
	case errs.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN", orDefault(message, "Forbidden"), nil
	case errs.KindCapacityExceeded:
		return http.StatusForbidden, "CAPACITY_EXCEEDED", orDefault(message, "Capacity exceeded"), nil
	case errs.KindValidation:
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", orDefault(message, "Invalid request"), nil
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
