package engine

import (
	"net/http"

	"github.com/open-workshop/storage/pkg/types"
)

// TransferError couples an HTTP status with the reason code recorded in
// meta and the callback. Reason may be empty for synchronous input errors
// that never create durable state.
type TransferError struct {
	Code   int
	Reason types.Reason
	Msg    string
}

func (e *TransferError) Error() string {
	return e.Msg
}

func badRequest(reason types.Reason, msg string) *TransferError {
	return &TransferError{Code: http.StatusBadRequest, Reason: reason, Msg: msg}
}

func notFound(msg string) *TransferError {
	return &TransferError{Code: http.StatusNotFound, Msg: msg}
}

func internal(reason types.Reason, msg string) *TransferError {
	return &TransferError{Code: http.StatusInternalServerError, Reason: reason, Msg: msg}
}
