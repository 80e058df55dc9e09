// Package api exposes the calibrator over HTTP: submit a calibration run,
// poll its status, and fetch the result.
package api

import "github.com/lwarden/fixcal/internal/calib"

// Run statuses.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CalibrationRequest describes one calibration run. Model, Weights and Data
// are paths resolvable by the server process.
type CalibrationRequest struct {
	Model   string `json:"model"`
	Weights string `json:"weights"`
	Data    string `json:"data"`
	Output  string `json:"output,omitempty"`

	TrimmingMode   string  `json:"trimming_mode,omitempty"`
	Iterations     int     `json:"iterations"`
	WeightBits     []int   `json:"weight_bits,omitempty"`
	ActivationBits []int   `json:"activation_bits,omitempty"`
	ScoreIndex     int     `json:"score_index,omitempty"`
	AccuracyMargin float64 `json:"accuracy_margin,omitempty"`

	// Background runs return immediately with a queued calibration; poll the
	// run until it completes.
	Background bool `json:"background,omitempty"`
}

// CalibrationResponse is the API view of one run.
type CalibrationResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	Status    string `json:"status"`

	Request CalibrationRequest `json:"request"`
	Error   string             `json:"error,omitempty"`
	Result  *calib.Result      `json:"result,omitempty"`
}

// CalibrationList is the response of the list endpoint.
type CalibrationList struct {
	Object string                `json:"object"`
	Data   []CalibrationResponse `json:"data"`
}

// ResponseError is the error payload shape.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
