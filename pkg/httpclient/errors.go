package httpclient

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/utafrali/EstateDesk/pkg/errors"
)

// maxErrorBody bounds how much of an error body is read.
const maxErrorBody = 1 << 20

// BackendErrorResponse covers the two error shapes the backend emits: the
// enveloped {"error":{"code","message"}} and the flat {"message"} variant.
type BackendErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an *apperrors.AppError whose Status is the response status and whose
// Message is the backend's text, unmodified. The body is consumed and closed.
func ParseResponseError(resp *http.Response) *apperrors.AppError {
	defer func() { _ = resp.Body.Close() }()

	code, message := "", ""
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		var backend BackendErrorResponse
		if json.Unmarshal(bodyBytes, &backend) == nil {
			switch {
			case backend.Error != nil:
				code, message = backend.Error.Code, backend.Error.Message
			case backend.Message != "":
				message = backend.Message
			}
		}
		if message == "" {
			message = strings.TrimSpace(string(bodyBytes))
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return mapStatus(resp.StatusCode, code, message)
}

// mapStatus attaches the sentinel matching the status so callers can use
// errors.Is regardless of which error code the backend chose.
func mapStatus(status int, code, message string) *apperrors.AppError {
	appErr := &apperrors.AppError{Code: code, Message: message, Status: status}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		appErr.Err = apperrors.ErrInvalidInput
		defaultCode(appErr, "INVALID_INPUT")
	case status == http.StatusUnauthorized:
		appErr.Err = apperrors.ErrUnauthorized
		defaultCode(appErr, "UNAUTHORIZED")
	case status == http.StatusForbidden:
		appErr.Err = apperrors.ErrForbidden
		defaultCode(appErr, "FORBIDDEN")
	case status == http.StatusNotFound:
		appErr.Err = apperrors.ErrNotFound
		defaultCode(appErr, "NOT_FOUND")
	case status == http.StatusConflict:
		appErr.Err = apperrors.ErrConflict
		defaultCode(appErr, "CONFLICT")
	case status == http.StatusTooManyRequests:
		appErr.Err = apperrors.ErrRateLimited
		defaultCode(appErr, "RATE_LIMITED")
	case status == http.StatusServiceUnavailable:
		appErr.Err = apperrors.ErrServiceUnavail
		defaultCode(appErr, "SERVICE_UNAVAILABLE")
	case status >= 500:
		appErr.Err = apperrors.ErrInternal
		defaultCode(appErr, "INTERNAL_ERROR")
	default:
		defaultCode(appErr, "HTTP_"+strconv.Itoa(status))
	}
	return appErr
}

func defaultCode(e *apperrors.AppError, code string) {
	if e.Code == "" {
		e.Code = code
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
