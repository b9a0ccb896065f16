package apperrors

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrConflict               = errors.New("conflict")
	ErrNotFound               = errors.New("not found")
	ErrUnsupported            = errors.New("operation not supported for this data source type")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrConnection             = errors.New("connection failed")
	ErrQuery                  = errors.New("query failed")
	ErrTemplate               = errors.New("unresolved template variable")
	ErrCredentialsKeyMismatch = errors.New("datasource credentials were encrypted with a different key")
)
