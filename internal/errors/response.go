package errors

import (
	"encoding/json"
	"net/http"
)

// Error is a typed error carrying the machine-readable code surfaced to
// HTTP clients. Pipeline/dispatcher code returns *Error for conditions the
// HTTP surface must render as a structured response; everything else is
// treated as an opaque internal error.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// New constructs a typed, client-facing error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// envelope is the flat success/error shape returned at the HTTP boundary.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *flatError  `json:"error,omitempty"`
}

type flatError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// WriteSuccess writes the flat {success:true, message, data} envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Message: message, Data: data})
}

// WriteFlatError writes the flat {success:false, error:{code,message}}
// envelope clients of the HTTP surface see, regardless of which richer
// internal representation (*Error, or a bare error treated as internal)
// produced it.
func WriteFlatError(w http.ResponseWriter, err error) {
	code := ErrCodeInternalError
	message := "internal server error"

	if typed, ok := err.(*Error); ok {
		code = typed.Code
		message = typed.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	json.NewEncoder(w).Encode(envelope{Success: false, Error: &flatError{Code: code, Message: message}})
}
