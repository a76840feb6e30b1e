// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

var kindStatus = map[shared.Kind]int{
	shared.KindNotFound:             http.StatusNotFound,
	shared.KindStateConflict:        http.StatusConflict,
	shared.KindValidation:           http.StatusUnprocessableEntity,
	shared.KindInsufficientResource: http.StatusConflict,
	shared.KindAuthorization:        http.StatusForbidden,
}

// StatusFor maps an error to the HTTP status code for its kind.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if status, ok := kindStatus[shared.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	de, ok := shared.AsError(err)
	if !ok || status == http.StatusInternalServerError {
		Problem(w, status, http.StatusText(status), "")
		return
	}
	JSON(w, status, ProblemDetail{
		Type:       "urn:inventory-ledger:error:" + de.Code,
		Title:      http.StatusText(status),
		Status:     status,
		Detail:     de.Message,
		Code:       de.Code,
		Fields:     de.Fields,
		Shortfalls: de.Shortfalls,
	})
}
