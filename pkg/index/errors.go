package index

import "fmt"

// IndexNotFoundError is returned when loading an index that was never persisted.
type IndexNotFoundError struct {
	Path string
	Err  error
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index not found at %s", e.Path)
}

func (e *IndexNotFoundError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError reports a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d, got %d", e.Want, e.Got)
}
