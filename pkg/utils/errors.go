package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseCode business code carried in the response envelope
type ResponseCode int

const (
	CodeSuccess ResponseCode = 0

	CodeInvalidParam ResponseCode = 10001
	CodeUnauthorized ResponseCode = 10002
	CodeForbidden    ResponseCode = 10003
	CodeRateLimit    ResponseCode = 10004

	CodeProductNotFound   ResponseCode = 20001
	CodeStockNotEnough    ResponseCode = 20002
	CodeOrderNotFound     ResponseCode = 30001
	CodeInvalidTransition ResponseCode = 30002
	CodePaymentProvider   ResponseCode = 30003

	CodeInternalError ResponseCode = 50000
	CodeDatabaseError ResponseCode = 50001
	CodeBrokerError   ResponseCode = 50002
)

// HTTPStatus maps a business code to the HTTP status it is served with
func (c ResponseCode) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeProductNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeStockNotEnough, CodeInvalidTransition:
		return http.StatusConflict
	case CodePaymentProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wrap error
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam  = NewError(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized  = NewError(CodeUnauthorized, "unauthorized")
	ErrForbidden     = NewError(CodeForbidden, "forbidden")
	ErrInternalError = NewError(CodeInternalError, "internal server error")
)

// AsAppError extracts an application error anywhere in the chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// GetErrorMessage get error message
func GetErrorMessage(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
