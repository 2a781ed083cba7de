package catalog

import "errors"

var (
	ErrNotFound = errors.New("herb not found")
	ErrInvalid  = errors.New("invalid catalog")
)
