package library

import (
	"errors"
	"fmt"
)

var (
	ErrConsistencyMismatch = errors.New("representations disagree")
	ErrKeyFileMismatch     = errors.New("key file does not match the dump trailers")
)

// MismatchError names the two representations of a group that disagree. Err is
// ErrConsistencyMismatch or ErrKeyFileMismatch.
type MismatchError struct {
	Base      string
	Reference string
	Other     string
	// Block is the first differing block, or -1 for key file mismatches.
	Block int
	Err   error
}

func (e *MismatchError) Error() string {
	if e.Block >= 0 {
		return fmt.Sprintf("%s: MISMATCH between %s and %s (first difference at block %d)", e.Base, e.Reference, e.Other, e.Block)
	}
	return fmt.Sprintf("%s: MISMATCH between %s and %s", e.Base, e.Reference, e.Other)
}

func (e *MismatchError) Unwrap() error {
	return e.Err
}
