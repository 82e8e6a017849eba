package core

import "errors"

var (
	ErrInvalidRecursionCount = errors.New("core: invalid recursion count")
	ErrInvalidShiftUnits     = errors.New("core: shift units must not be negative")
	ErrNoLoader              = errors.New("core: cache has no loader")
)
