package service

import "errors"

// Service-level sentinel errors, mapped to HTTP status codes in the handlers.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNoCapacity          = errors.New("no worker capacity available")
	ErrDispatchFailed      = errors.New("job dispatch failed")
	ErrUpstreamUnreachable = errors.New("worker unreachable")
)
