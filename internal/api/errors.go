package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the JSON body of every failed request.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    strings.ToLower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// writeError sends apiErr to the client. Server-side failures are logged with
// the request they belong to; the cause never reaches the response body.
func (s *HuddleApp) writeError(w http.ResponseWriter, r *http.Request, apiErr *ApiError) {
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("%s %s: %v", r.Method, r.URL.Path, apiErr)
	}

	s.writeJson(w, apiErr.StatusCode, apiErr)
}
