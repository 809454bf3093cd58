package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrAllBackendsFailed  = errors.New("all backends failed")
)
