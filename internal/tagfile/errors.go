package tagfile

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("representation parse failed")

// ParseError reports a representation that could not be decoded into a block
// sequence.
type ParseError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid %s data: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: invalid %s data: %v", e.Path, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseErr(k Kind, format string, args ...any) error {
	return &ParseError{Kind: k, Err: fmt.Errorf(format, args...)}
}
