package scan

import "errors"

// ErrTooManyScans is returned by Start when the process-wide concurrency
// gate (§4.7) is at capacity.
var ErrTooManyScans = errors.New("too many concurrent scans")

// ErrNotFound is returned when a scan or result is missing, or is owned by
// a different creator/organization.
var ErrNotFound = errors.New("scan not found")

// ErrNotComplete is returned when an operation requires a terminal scan but
// the scan is still queued or running.
var ErrNotComplete = errors.New("scan is not complete")
