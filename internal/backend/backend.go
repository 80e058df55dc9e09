// Package backend resolves the compute-device selector into a concrete
// execution target for the forward runner.
package backend

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CPU  = "cpu"
	GPU  = "gpu"
	Auto = "auto"
	All  = "all"
)

// Device is a resolved execution target. When Kind is GPU, IDs lists the
// requested device ids in order; the first one is used.
type Device struct {
	Kind string
	IDs  []int
}

// Select parses a device selector: "", "auto" or "cpu" run on the CPU,
// "all" requests every available GPU, and a comma-separated id list such as
// "0,2" requests specific GPUs. Anything else is a configuration error.
func Select(selector string) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	switch s {
	case "", Auto, CPU:
		return Device{Kind: CPU}, nil
	case All:
		return Device{Kind: GPU}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id < 0 {
			return Device{}, fmt.Errorf("backend: unknown device selector %q (expected auto, cpu, all, or a GPU id list)", selector)
		}
		ids = append(ids, id)
	}
	return Device{Kind: GPU, IDs: ids}, nil
}

func (d Device) String() string {
	if d.Kind != GPU {
		return d.Kind
	}
	if len(d.IDs) == 0 {
		return "gpu(all)"
	}
	return fmt.Sprintf("gpu(%d)", d.IDs[0])
}
