package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-convo/internal/chat"
)

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

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewUnprocessableEntityError() *ApiError {
	return newApiError(http.StatusUnprocessableEntity, nil)
}

// fromServiceError maps a chat error to its HTTP form. Client errors carry
// the service's message; anything unrecognized is an internal error.
func fromServiceError(err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		apiErr = NewUnauthorizedError()
	case errors.Is(err, chat.ErrUnauthorized):
		apiErr = NewForbiddenError()
	case errors.Is(err, chat.ErrNotFound):
		apiErr = NewNotFoundError()
	case errors.Is(err, chat.ErrCapacity):
		apiErr = NewUnprocessableEntityError()
	case errors.Is(err, chat.ErrInvalidArgument):
		apiErr = NewBadRequestError()
	default:
		return NewInternalServerError(err)
	}

	apiErr.Message = err.Error()
	apiErr.Err = err
	return apiErr
}
