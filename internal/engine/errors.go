package engine

import "errors"

var (
	ErrIncompatible = errors.New("engine: description incompatible with weights")
	ErrNoInput      = errors.New("engine: description must start with an Input layer")
	ErrNoBatches    = errors.New("engine: no calibration batches")
	ErrNoLabel      = errors.New("engine: accuracy layer requires labeled batches")
	ErrBatchShape   = errors.New("engine: batch does not match input shape")
)
