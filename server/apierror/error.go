// Package apierror renders bridge errors as JSON API errors with SQLSTATE
// codes from the foreign data wrapper class.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nnnkkk7/tds-bridge/pkg/decoder"
	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
	"github.com/nnnkkk7/tds-bridge/pkg/metadata"
	"github.com/nnnkkk7/tds-bridge/pkg/planner"
	"github.com/nnnkkk7/tds-bridge/pkg/scan"
)

// Error codes
const (
	CodeInvalidOption   = "invalid_option"
	CodeSchemaMismatch  = "schema_mismatch"
	CodeRemoteFailure   = "remote_failure"
	CodeInvalidValue    = "invalid_value"
	CodeInternalError   = "internal_error"
	CodeObjectNotFound  = "object_not_found"
	CodeObjectExists    = "object_exists"
	CodeObjectInUse     = "object_in_use"
	CodeInvalidRequest  = "invalid_request"
	CodeScanNotFound    = "scan_not_found"
	CodeScanClosed      = "scan_closed"
	CodeUnclassifiedErr = "error"
)

// SQLState represents SQL standard error states.
const (
	SQLStateFDWError                = "HV000"
	SQLStateFDWInvalidOptionName    = "HV00D"
	SQLStateFDWInconsistentDescInfo = "HV021"
	SQLStateFDWUnableToCreateExec   = "HV00L"
	SQLStateInvalidTextRepr         = "22P02"
	SQLStateInvalidParameterValue   = "22023"
	SQLStateUndefinedObject         = "42704"
	SQLStateDuplicateObject         = "42710"
	SQLStateDependentObjects        = "2BP01"
	SQLStateInternalError           = "XX000"
)

// Error is the JSON body of every failed API call.
type Error struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	SQLState string         `json:"sqlState,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Data     map[string]any `json:"data,omitempty"`

	status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// WithData adds data to the error.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Is checks if this error matches another error by code.
func (e *Error) Is(target error) bool {
	var apiErr *Error
	if errors.As(target, &apiErr) {
		return e.Code == apiErr.Code
	}
	return false
}

// New creates an Error with the given code, SQLSTATE and HTTP status.
func New(status int, code, sqlState, message string) *Error {
	return &Error{Code: code, Message: message, SQLState: sqlState, status: status}
}

// NewInvalidRequestError creates an error for a malformed request.
func NewInvalidRequestError(message string) *Error {
	return New(http.StatusBadRequest, CodeInvalidRequest, SQLStateInvalidParameterValue, message)
}

// NewObjectNotFoundError creates an object not found error.
func NewObjectNotFoundError(objectType, objectName string) *Error {
	return New(http.StatusNotFound, CodeObjectNotFound, SQLStateUndefinedObject,
		fmt.Sprintf("%s %q does not exist", objectType, objectName)).
		WithData("objectType", objectType).
		WithData("objectName", objectName)
}

// FromError classifies err. Errors that already are *Error are returned
// as-is and nil stays nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var (
		mismatch  *planner.SchemaMismatchError
		cfgErr    *fdwerr.ConfigError
		decodeErr *decoder.DecodeError
		protoErr  *fdwerr.ProtocolError
	)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		return New(http.StatusNotFound, CodeObjectNotFound, SQLStateUndefinedObject, err.Error())
	case errors.Is(err, metadata.ErrAlreadyExists):
		return New(http.StatusConflict, CodeObjectExists, SQLStateDuplicateObject, err.Error())
	case errors.Is(err, metadata.ErrInUse):
		return New(http.StatusConflict, CodeObjectInUse, SQLStateDependentObjects, err.Error())
	case errors.Is(err, scan.ErrHandleNotFound):
		return New(http.StatusNotFound, CodeScanNotFound, SQLStateUndefinedObject, err.Error())
	case errors.Is(err, scan.ErrScanClosed):
		return New(http.StatusGone, CodeScanClosed, SQLStateFDWError, err.Error())
	case errors.As(err, &mismatch):
		return New(http.StatusBadRequest, CodeSchemaMismatch, SQLStateFDWInconsistentDescInfo, err.Error()).
			WithData("sourceColumns", mismatch.SourceColumns).
			WithData("targetColumns", mismatch.TargetColumns)
	case errors.Is(err, fdwerr.ErrConfig):
		e := New(http.StatusBadRequest, CodeInvalidOption, SQLStateFDWInvalidOptionName, err.Error())
		if errors.As(err, &cfgErr) {
			e.Hint = cfgErr.Hint
		}
		return e
	case errors.As(err, &decodeErr):
		return New(http.StatusUnprocessableEntity, CodeInvalidValue, SQLStateInvalidTextRepr, err.Error()).
			WithData("column", decodeErr.Column).
			WithData("targetType", string(decodeErr.TargetType))
	case errors.As(err, &protoErr):
		return New(http.StatusBadGateway, CodeRemoteFailure, SQLStateFDWUnableToCreateExec, err.Error()).
			WithData("operation", protoErr.Op)
	case errors.Is(err, fdwerr.ErrInternal):
		return New(http.StatusInternalServerError, CodeInternalError, SQLStateInternalError, err.Error())
	default:
		return New(http.StatusInternalServerError, CodeUnclassifiedErr, SQLStateFDWError, err.Error())
	}
}
