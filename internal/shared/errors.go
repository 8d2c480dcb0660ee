package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Transport and server outcomes
	ErrNetwork  = fmt.Errorf("network error")
	ErrRejected = fmt.Errorf("request rejected by server")
	ErrAborted  = fmt.Errorf("operation aborted")

	// Catalog errors
	ErrConflict = fmt.Errorf("operation already pending")
	ErrNotFound = fmt.Errorf("video not found")

	// Input validation errors
	ErrInvalidType     = fmt.Errorf("invalid file type")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
