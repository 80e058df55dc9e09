package calib

import (
	"fmt"

	"github.com/lwarden/fixcal/pkg/dfp"
	"github.com/lwarden/fixcal/pkg/netdesc"
)

// Category selects which layer kinds a candidate quantizes.
type Category string

const (
	CategoryConvolution  Category = "Convolution"
	CategoryInnerProduct Category = "InnerProduct"
	CategoryBoth         Category = "Both"
)

func (c Category) includesConv() bool {
	return c == CategoryConvolution || c == CategoryBoth
}

func (c Category) includesFC() bool {
	return c == CategoryInnerProduct || c == CategoryBoth
}

// Aspect selects which quantities of a matching layer are quantized.
type Aspect string

const (
	AspectParameters  Aspect = "Parameters"
	AspectActivations Aspect = "Activations"
	AspectBoth        Aspect = "Both"
)

func (a Aspect) includesParams() bool      { return a == AspectParameters || a == AspectBoth }
func (a Aspect) includesActivations() bool { return a == AspectActivations || a == AspectBoth }

// Unquantized is the sentinel bit-width meaning "leave this quantity in full
// precision".
const Unquantized = -1

// Widths supplies one candidate bit-width per quantity. Quantities outside
// the candidate's category or aspect are passed as Unquantized.
type Widths struct {
	ConvParams int
	FcParams   int
	In         int
	Out        int
}

// Builder produces candidate network descriptions from a base description
// and the integer lengths of one calibration run.
type Builder struct {
	Lengths *dfp.Table
}

// Build returns a new description in which every layer matching category has
// the requested aspects switched to dynamic fixed point. The base is never
// mutated: each candidate starts from a deep clone so no state leaks between
// candidates. Given identical inputs the output is identical.
func (b *Builder) Build(base *netdesc.Description, category Category, aspect Aspect, w Widths) (*netdesc.Description, error) {
	out := base.Clone()
	for i := range out.Layers {
		l := &out.Layers[i]

		var paramsWidth int
		switch {
		case netdesc.IsConvolution(l.Type) && category.includesConv():
			paramsWidth = w.ConvParams
		case netdesc.IsInnerProduct(l.Type) && category.includesFC():
			paramsWidth = w.FcParams
		default:
			continue
		}

		if aspect.includesParams() && paramsWidth != Unquantized {
			il, err := b.Lengths.ParamsLength(l.Name)
			if err != nil {
				return nil, fmt.Errorf("calib: build candidate: %w", err)
			}
			q := ensureQuantization(l)
			q.BWParams = paramsWidth
			q.FLParams = dfp.FracLength(paramsWidth, il)
		}
		if aspect.includesActivations() {
			if w.In != Unquantized {
				il, err := b.Lengths.InputLength(l.Name)
				if err != nil {
					return nil, fmt.Errorf("calib: build candidate: %w", err)
				}
				q := ensureQuantization(l)
				q.BWIn = w.In
				q.FLIn = dfp.FracLength(w.In, il)
			}
			if w.Out != Unquantized {
				il, err := b.Lengths.OutputLength(l.Name)
				if err != nil {
					return nil, fmt.Errorf("calib: build candidate: %w", err)
				}
				q := ensureQuantization(l)
				q.BWOut = w.Out
				q.FLOut = dfp.FracLength(w.Out, il)
			}
		}
	}
	return out, nil
}

// ensureQuantization switches the layer to its fixed point variant and
// returns its quantization block, allocating both on first touch.
func ensureQuantization(l *netdesc.Layer) *netdesc.Quantization {
	if fixed, ok := netdesc.FixedVariant(l.Type); ok {
		l.Type = fixed
	}
	if l.Quantization == nil {
		l.Quantization = &netdesc.Quantization{}
	}
	return l.Quantization
}
