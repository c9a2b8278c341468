package activities

import "errors"

var (
	// ErrSourceUnavailable indicates no upstream activity lister is configured.
	ErrSourceUnavailable = errors.New("activity source unavailable")
)
