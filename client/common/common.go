package common

import (
	"fmt"
	"net/http"
)

// HTTPError failed api response
type HTTPError struct {
	Code    int    `json:"-"`
	Message string `json:"message"`
}

func NewHTTPError(code int, format string, args ...interface{}) *HTTPError {
	return &HTTPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// IsStatus returns true if err is HTTPError with the status code
func IsStatus(err error, code int) bool {
	e, ok := err.(*HTTPError)
	return ok && e.Code == code
}
