package calib

import "errors"

var (
	ErrIterations      = errors.New("calib: iterations must be positive")
	ErrUnknownTrimming = errors.New("calib: unknown trimming mode")
	ErrNoCandidates    = errors.New("calib: empty candidate bit-width list")
	ErrScoreIndex      = errors.New("calib: score index out of range")
	ErrNoScores        = errors.New("calib: forward pass produced no scores")
	ErrScoreShape      = errors.New("calib: output count changed between batches")
)
