package calib

import (
	"fmt"
	"strings"
	"time"

	"github.com/lwarden/fixcal/pkg/netdesc"
)

// Candidate is one scored (bit-width, accuracy) pair.
type Candidate struct {
	Bitwidth int     `json:"bitwidth"`
	Accuracy float64 `json:"accuracy"`
}

// CategoryResult holds the chosen bit-width for one quantization target and
// every candidate that was scored on the way there.
type CategoryResult struct {
	Bitwidth   int         `json:"bitwidth"`
	Accuracy   float64     `json:"accuracy"`
	Candidates []Candidate `json:"candidates"`
}

// Result is the aggregate outcome of one calibration run. It is produced
// once and read-only afterwards.
type Result struct {
	RunID        string    `json:"run_id"`
	TrimmingMode string    `json:"trimming_mode"`
	Iterations   int       `json:"iterations"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	Baseline    float64        `json:"baseline"`
	ConvWeights CategoryResult `json:"conv_weights"`
	FcWeights   CategoryResult `json:"fc_weights"`
	Activations CategoryResult `json:"activations"`
	Combined    float64        `json:"combined"`

	Description *netdesc.Description `json:"description,omitempty"`
}

// Summary renders the human-readable accuracy analysis.
func (r *Result) Summary() string {
	var b strings.Builder
	b.WriteString("------------------------------\n")
	b.WriteString("Network accuracy analysis for convolutional (CONV) and fully connected (FC) layers.\n")
	fmt.Fprintf(&b, "Baseline 32-bit float: %g\n", r.Baseline)

	writeCands := func(title string, cr CategoryResult) {
		b.WriteString(title + "\n")
		for _, c := range cr.Candidates {
			fmt.Fprintf(&b, "%d-bit: \t%g\n", c.Bitwidth, c.Accuracy)
		}
	}
	writeCands("Dynamic fixed point CONV weights:", r.ConvWeights)
	writeCands("Dynamic fixed point FC weights:", r.FcWeights)
	writeCands("Dynamic fixed point layer activations:", r.Activations)

	b.WriteString("Dynamic fixed point net:\n")
	fmt.Fprintf(&b, "%d-bit CONV weights,\n", r.ConvWeights.Bitwidth)
	fmt.Fprintf(&b, "%d-bit FC weights,\n", r.FcWeights.Bitwidth)
	fmt.Fprintf(&b, "%d-bit layer activations:\n", r.Activations.Bitwidth)
	fmt.Fprintf(&b, "Accuracy: %g\n", r.Combined)
	b.WriteString("Please fine-tune.\n")
	return b.String()
}
