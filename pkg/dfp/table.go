package dfp

import (
	"errors"
	"fmt"
)

// ErrLayerUnknown is returned when an integer length is requested for a
// layer name the table has never seen. This signals an inconsistency between
// the statistics pass and the description being edited; it must never be
// defaulted to zero, since a zero integer length would silently corrupt the
// fractional-length computation for that layer.
var ErrLayerUnknown = errors.New("dfp: unknown layer")

// LayerRange holds the largest absolute values observed for one layer during
// a calibration pass. HasParams is false for layers without learnable
// parameters; their MaxParams must never be used to derive a length.
type LayerRange struct {
	Name      string
	MaxIn     float64
	MaxOut    float64
	MaxParams float64
	HasParams bool
}

type lengths struct {
	in, out, params int
	hasParams       bool
}

// Table maps layer names to their integer lengths. It is computed once from
// the statistics of a single calibration run and read-only afterwards.
type Table struct {
	byName map[string]lengths
}

// NewTable derives integer lengths from the given ranges using fn, or the
// default IntegerLength when fn is nil.
func NewTable(ranges []LayerRange, fn LengthFunc) *Table {
	if fn == nil {
		fn = IntegerLength
	}
	t := &Table{byName: make(map[string]lengths, len(ranges))}
	for _, r := range ranges {
		l := lengths{
			in:        fn(r.MaxIn),
			out:       fn(r.MaxOut),
			hasParams: r.HasParams,
		}
		if r.HasParams {
			l.params = fn(r.MaxParams)
		}
		t.byName[r.Name] = l
	}
	return t
}

// InputLength returns the integer length of the layer's input activations.
func (t *Table) InputLength(layer string) (int, error) {
	l, ok := t.byName[layer]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrLayerUnknown, layer)
	}
	return l.in, nil
}

// OutputLength returns the integer length of the layer's output activations.
func (t *Table) OutputLength(layer string) (int, error) {
	l, ok := t.byName[layer]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrLayerUnknown, layer)
	}
	return l.out, nil
}

// ParamsLength returns the integer length of the layer's learned parameters.
// Layers recorded without parameters report ErrLayerUnknown as well: asking
// for a parameter length on such a layer is the same consistency fault.
func (t *Table) ParamsLength(layer string) (int, error) {
	l, ok := t.byName[layer]
	if !ok || !l.hasParams {
		return 0, fmt.Errorf("%w: %q (parameters)", ErrLayerUnknown, layer)
	}
	return l.params, nil
}

// Len reports the number of layers in the table.
func (t *Table) Len() int { return len(t.byName) }
