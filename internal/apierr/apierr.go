package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(code string, err error) *Error {
	return New(http.StatusBadRequest, code, err)
}

// NotFound covers both "missing" and "not owned"; the two are deliberately
// indistinguishable to the caller.
func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

func GenerationFailed(err error) *Error {
	return New(http.StatusBadGateway, "generation_failed", err)
}

func StorageBusy(err error) *Error {
	return New(http.StatusServiceUnavailable, "storage_busy",
		fmt.Errorf("storage busy, try again shortly: %w", err))
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "internal_error", err)
}

// From resolves any error to an *Error, defaulting to 500 internal_error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
