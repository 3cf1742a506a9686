package models

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicatePackage  = errors.New("tracking number already registered for this box")
	ErrInvalidArgument   = errors.New("invalid argument")
)
