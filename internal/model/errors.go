package model

import "github.com/pkg/errors"

var (
	// ErrStorageTransient marks database failures the caller may retry.
	ErrStorageTransient = errors.New("storage temporarily unavailable")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
)
