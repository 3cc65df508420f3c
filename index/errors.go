package index

import "errors"

// ErrDimensionMismatch indicates a vector whose length differs from the store's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")
