package snapshot

import "mdfeed/models"

var (
	ErrInvalidHandle   = models.ErrInvalidHandle
	ErrInvalidArgument = models.ErrInvalidArgument
	ErrUnsupported     = models.ErrUnsupported
	ErrDuplicate       = models.ErrDuplicate
)
