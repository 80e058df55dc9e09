package netdesc

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

var knownTypes = map[string]struct{}{
	TypeInput:             {},
	TypeConvolution:       {},
	TypeInnerProduct:      {},
	TypeReLU:              {},
	TypeMaxPool:           {},
	TypeSoftmax:           {},
	TypeAccuracy:          {},
	TypeConvolutionFixed:  {},
	TypeInnerProductFixed: {},
}

// Validate checks structural invariants: at least one layer, unique non-empty
// names, known layer types.
func (d *Description) Validate() error {
	if len(d.Layers) == 0 {
		return ErrNoLayers
	}
	seen := make(map[string]struct{}, len(d.Layers))
	for i := range d.Layers {
		l := &d.Layers[i]
		if l.Name == "" {
			return fmt.Errorf("%w: layer %d", ErrUnnamedLayer, i)
		}
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateLayer, l.Name)
		}
		seen[l.Name] = struct{}{}
		if _, ok := knownTypes[l.Type]; !ok {
			return fmt.Errorf("%w: %q (layer %q)", ErrUnknownLayerType, l.Type, l.Name)
		}
	}
	return nil
}

// Parse decodes and validates a description from its on-disk JSON form.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("netdesc: parse: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load reads a description from path.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netdesc: read %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes the description to its on-disk JSON form. Output is
// deterministic for identical descriptions.
func (d *Description) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Write persists the description to path.
func Write(d *Description, path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("netdesc: encode: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("netdesc: write %s: %w", path, err)
	}
	return nil
}
