package domain

import "errors"

var (
	// ErrInvalidConfig is fatal: the pipeline is never built from it
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidGeometry marks a single bad road; the batch continues without it
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrPredictionFailed means the predictor errored or timed out and the last snapshot was kept
	ErrPredictionFailed = errors.New("congestion prediction failed")

	// ErrZoneNotFound is returned for zone ids absent from the current zone set
	ErrZoneNotFound = errors.New("zone not found")

	// ErrRoadNotFound is returned for unknown road ids
	ErrRoadNotFound = errors.New("road not found")

	ErrInvalidTimestamp = errors.New("timestamp must be HH:MM:SS")

	ErrNoSnapshot = errors.New("no snapshot loaded")
)
