package messaging

import "errors"

var (
	ErrClosed     = errors.New("messaging: controller closed")
	ErrNilCommand = errors.New("messaging: nil command")

	// ErrNestedSuspension is returned by operations that need their suspended
	// closure to finish before they return but were started inside one.
	ErrNestedSuspension = errors.New("messaging: suspension requested from inside a suspended closure")
)

// ReportableError carries the title shown to the user when a command fails.
type ReportableError struct {
	Title string
	Err   error
}

func (e *ReportableError) Error() string {
	if e.Err == nil {
		return e.Title
	}
	return e.Title + ": " + e.Err.Error()
}

func (e *ReportableError) Unwrap() error { return e.Err }

// Reportable wraps err with a user facing title. A nil err stays nil.
func Reportable(title string, err error) error {
	if err == nil {
		return nil
	}
	return &ReportableError{Title: title, Err: err}
}

// ReportError is delivered to clients watching the controller.
type ReportError struct {
	Title  string
	Detail string
}
