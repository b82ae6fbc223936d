package subscription

import "mdfeed/models"

var (
	ErrInvalidHandle   = models.ErrInvalidHandle
	ErrInvalidArgument = models.ErrInvalidArgument
)
