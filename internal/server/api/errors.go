package api

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/clinicvault/internal/common"
)

var statusByKind = map[string]int{
	"MalformedPayload":  http.StatusBadRequest,
	"Validation":        http.StatusBadRequest,
	"DecryptionFailed":  http.StatusBadRequest,
	"Unauthorized":      http.StatusUnauthorized,
	"OwnershipMismatch": http.StatusForbidden,
	"Forbidden":         http.StatusForbidden,
	"NotFound":          http.StatusNotFound,
	"DuplicatePairing":  http.StatusConflict,
	"AlreadyConfirmed":  http.StatusConflict,
	"KeyExhausted":      http.StatusConflict,
	"PairingExpired":    http.StatusGone,
	"KeyRevoked":        http.StatusGone,
	"PinRejected":       http.StatusUnprocessableEntity,
}

// StatusFor maps an error kind to its HTTP status. Unknown kinds are 500.
func StatusFor(kind string) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", common.ErrorValidation, msg)
}
