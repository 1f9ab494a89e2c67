//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 403, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
// If you notice there's a gap, DON'T fill in the gap, that code was used in the past for some error and
// shouldn't be reused.
var (
	ErrResourceNotFound     = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody        = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedPollID      = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed poll ID")}
	ErrPollNotFound         = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("poll not found")}
	ErrMalformedParam       = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrDistributionNotFound = Error{Code: 40009, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("distribution not found")}
	ErrOperationNotReady    = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("operation not available at this stage")}
	ErrInvalidProof         = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid proof")}
	ErrLimitReached         = Error{Code: 40012, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("limit reached")}
	ErrFundsUnavailable     = Error{Code: 40013, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("funds unavailable")}
	ErrForbidden            = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("forbidden")}
	ErrClaimNotFound        = Error{Code: 40015, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("claim not found")}
	ErrProjectNotFound      = Error{Code: 40016, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("project not found")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
