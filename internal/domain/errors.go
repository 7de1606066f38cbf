package domain

import "errors"

// Sentinel errors. Services wrap these so transports can map them to HTTP
// statuses and close codes without knowing about storage.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
)
