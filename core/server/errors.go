package server

import "errors"

var (
	// ErrServerAlreadyRunning is returned by Start when the server was
	// already started and not yet stopped.
	ErrServerAlreadyRunning = errors.New("server is already running")

	// ErrMissingAddress is returned when the server address is not provided.
	ErrMissingAddress = errors.New("server address is required")

	// ErrFailedLoadCert wraps certificate loading failures.
	ErrFailedLoadCert = errors.New("failed to load certificate")
)
