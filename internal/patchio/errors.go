package patchio

import "errors"

var (
	ErrMissingManifest   = errors.New("patchio: document has no manifest")
	ErrBadManifest       = errors.New("patchio: manifest is malformed")
	ErrVersion           = errors.New("patchio: document version is newer than this build")
	ErrWrongType         = errors.New("patchio: document type does not match the request")
	ErrMissingData       = errors.New("patchio: document has no data chunk")
	ErrSizeMismatch      = errors.New("patchio: sample size changed while reading")
	ErrDuplicateFilename = errors.New("patchio: two samples share a filename")
	ErrMultiFileMonolith = errors.New("patchio: monoliths only hold single file samples")
	ErrRemonolith        = errors.New("patchio: samples loaded from a monolith cannot be collected or re-monolithed")
	ErrNotMonolith       = errors.New("patchio: document has no embedded samples")
	ErrMonolithIndex     = errors.New("patchio: embedded sample index does not match the sample list")
	ErrUnknownBundle     = errors.New("patchio: unknown resource bundle")
	ErrPartIndex         = errors.New("patchio: part index out of range")
)
