package model

import "errors"

// Sentinel errors for engine operations. Callers match with errors.Is; the
// API layer maps them to HTTP codes.
var (
	ErrAuthRequired = errors.New("auth required")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUploadFailed = errors.New("upload failed")
	ErrWriteFailed  = errors.New("write failed")
	ErrValidation   = errors.New("validation failed")
)
