package models

import "github.com/pkg/errors"

// Failures returned synchronously by the subscription registry and the
// snapshot engine. Callers match them with errors.Is.
var (
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("unsupported")
	ErrDuplicate       = errors.New("duplicate")
)
