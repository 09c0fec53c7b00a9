// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/storeops/stockledger/internal/shared"
)

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindForbidden:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindInvalidTransition, shared.KindAlreadyProcessed, shared.KindConcurrencyConflict:
		return http.StatusConflict
	case shared.KindQuantityOutOfBounds, shared.KindDamagedExceedsReceived, shared.KindUnknownLineItem, shared.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var de *shared.Error
	if !errors.As(err, &de) {
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	status := StatusFor(de.Kind)
	if de.Kind == shared.KindConcurrencyConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeProblem(w, ProblemDetail{
		Type:   "urn:stockledger:error:" + string(de.Kind),
		Title:  http.StatusText(status),
		Status: status,
		Detail: shared.UserSafeMessage(err),
		Kind:   string(de.Kind),
		Fields: de.Fields,
	})
}
