package sample

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrEmptySample       = errors.New("sample contains no frames")
	ErrNotInMonolith     = errors.New("sample path not present in monolith index")
)
