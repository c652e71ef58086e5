package model

import "errors"

// Domain error taxonomy. The HTTP layer maps these to status codes; everything
// else is treated as an unexpected internal error.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("track not found")
	ErrVersionLimit     = errors.New("version limit exceeded")
	ErrUnsafePath       = errors.New("path outside allowed directories")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTrackBusy        = errors.New("track is already being processed")
)
