// Package netdesc defines the textual network description format consumed by
// the forward runner and edited by the calibrator. A description is an
// ordered sequence of layers; the calibrator only ever rewrites layer types
// and quantization fields, never layer order or membership.
package netdesc

// Layer type names. The Fixed variants execute with dynamic fixed point
// parameters and/or activations according to the layer's Quantization block.
const (
	TypeInput             = "Input"
	TypeConvolution       = "Convolution"
	TypeInnerProduct      = "InnerProduct"
	TypeReLU              = "ReLU"
	TypeMaxPool           = "MaxPool"
	TypeSoftmax           = "Softmax"
	TypeAccuracy          = "Accuracy"
	TypeConvolutionFixed  = "ConvolutionFixed"
	TypeInnerProductFixed = "InnerProductFixed"
)

// Quantization carries the dynamic fixed point format of one layer.
// A bit-width of zero means the corresponding quantity stays full precision;
// fractional lengths may legitimately be zero or negative, so they are only
// meaningful when the matching bit-width is set.
type Quantization struct {
	BWParams int `json:"bw_params"`
	FLParams int `json:"fl_params"`
	BWIn     int `json:"bw_in"`
	FLIn     int `json:"fl_in"`
	BWOut    int `json:"bw_out"`
	FLOut    int `json:"fl_out"`
}

// Layer describes one node of the network graph.
type Layer struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Input geometry (Input layers only): channels, height, width.
	Shape []int `json:"shape,omitempty"`

	// Convolution geometry.
	Filters int `json:"filters,omitempty"`
	Kernel  int `json:"kernel,omitempty"`
	Stride  int `json:"stride,omitempty"`
	Pad     int `json:"pad,omitempty"`

	// InnerProduct geometry.
	Outputs int `json:"outputs,omitempty"`

	// MaxPool geometry (Kernel/Stride above are reused).
	Quantization *Quantization `json:"quantization,omitempty"`
}

// Description is an ordered network graph. Layers execute top to bottom.
type Description struct {
	Name   string  `json:"name,omitempty"`
	Layers []Layer `json:"layers"`
}

// IsConvolution reports whether t is a convolution layer in either precision.
func IsConvolution(t string) bool {
	return t == TypeConvolution || t == TypeConvolutionFixed
}

// IsInnerProduct reports whether t is a fully connected layer in either
// precision.
func IsInnerProduct(t string) bool {
	return t == TypeInnerProduct || t == TypeInnerProductFixed
}

// HasParams reports whether layers of type t carry learned parameters.
func HasParams(t string) bool {
	return IsConvolution(t) || IsInnerProduct(t)
}

// FixedVariant returns the dynamic fixed point variant for a layer type.
// Types without a fixed variant map to themselves with ok=false.
func FixedVariant(t string) (string, bool) {
	switch {
	case IsConvolution(t):
		return TypeConvolutionFixed, true
	case IsInnerProduct(t):
		return TypeInnerProductFixed, true
	default:
		return t, false
	}
}

// Clone returns a deep copy of the description. Candidate configurations are
// always built on a clone so no two candidates share mutable state.
func (d *Description) Clone() *Description {
	out := &Description{
		Name:   d.Name,
		Layers: make([]Layer, len(d.Layers)),
	}
	copy(out.Layers, d.Layers)
	for i := range out.Layers {
		if s := out.Layers[i].Shape; s != nil {
			out.Layers[i].Shape = append([]int(nil), s...)
		}
		if q := out.Layers[i].Quantization; q != nil {
			qc := *q
			out.Layers[i].Quantization = &qc
		}
	}
	return out
}

// Layer returns a pointer to the named layer, or nil.
func (d *Description) Layer(name string) *Layer {
	for i := range d.Layers {
		if d.Layers[i].Name == name {
			return &d.Layers[i]
		}
	}
	return nil
}
