package bvh

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGeometry = errors.New("bvh: invalid geometry")
	ErrInternal        = errors.New("bvh: internal error")
	ErrStackOverflow   = fmt.Errorf("%w: traversal stack overflow", ErrInternal)
)
