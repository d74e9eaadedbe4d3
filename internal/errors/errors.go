package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the error body of the status API
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// NewAPIError builds an APIError
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

var (
	ErrNotFound       = NewAPIError(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInternalServer = NewAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

var statusByType = map[ErrorType]struct {
	status int
	code   string
}{
	ErrTypeStorage:    {http.StatusServiceUnavailable, "STORAGE_ERROR"},
	ErrTypeNetwork:    {http.StatusBadGateway, "NETWORK_ERROR"},
	ErrTypeTimeout:    {http.StatusGatewayTimeout, "TIMEOUT"},
	ErrTypeNotFound:   {http.StatusNotFound, "NOT_FOUND"},
	ErrTypeValidation: {http.StatusBadRequest, "VALIDATION_ERROR"},
}

// FromError maps err to an API error. The message of an AppError is exposed;
// its cause stays in the logs.
func FromError(err error) *APIError {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrInternalServer
	}
	m, ok := statusByType[appErr.Type]
	if !ok {
		return NewAPIError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", appErr.Message)
	}
	return NewAPIError(m.status, m.code, appErr.Message)
}

// ErrorResponse is the envelope every failed API call returns
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse wraps err in the envelope
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Error: err}
}

// Render implements render.Renderer
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
