package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/warp/waqf-engine/generic"
)

// statusFor maps engine errors onto HTTP statuses. Anything unrecognised,
// including ledger inconsistencies, is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err):
		return http.StatusUnprocessableEntity
	case generic.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err with the status statusFor picks. Server
// errors are logged; their details stay out of the response.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		fields := logrus.Fields{"path": r.URL.Path, "method": r.Method}
		if errors.Is(err, generic.ErrLedgerInconsistency) {
			fields["ledger_inconsistency"] = true
		}
		logrus.WithFields(fields).WithError(err).Error(message)
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}
