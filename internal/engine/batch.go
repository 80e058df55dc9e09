package engine

import (
	"fmt"

	"github.com/lwarden/fixcal/pkg/wfile"
)

// Batch is one calibration sample: an input tensor and, when the network
// ends in an Accuracy layer, the expected class.
type Batch struct {
	Input    []float32
	Label    int
	HasLabel bool
}

// BatchSource supplies calibration batches by index. Indexes cycle (batch i
// resolves to i mod Len), so any iteration count works against any dataset
// size. Sources hold no cursor: every loaded network instance counts its own
// position from zero, so two instances fed the same iteration count see the
// same batches.
type BatchSource interface {
	Len() int
	Batch(i int) (Batch, error)
}

// SliceSource serves batches from memory.
type SliceSource struct {
	Batches []Batch
}

func (s *SliceSource) Len() int { return len(s.Batches) }

func (s *SliceSource) Batch(i int) (Batch, error) {
	if len(s.Batches) == 0 {
		return Batch{}, ErrNoBatches
	}
	return s.Batches[i%len(s.Batches)], nil
}

// FileSource serves batches from an FXW dataset: tensors named
// batch/<i>/input with optional batch/<i>/label, i counting from 0 with no
// gaps.
type FileSource struct {
	batches []Batch
}

// NewFileSource loads every batch from the dataset file. The file may be
// closed after this returns.
func NewFileSource(f *wfile.File) (*FileSource, error) {
	var batches []Batch
	for i := 0; ; i++ {
		inputName := fmt.Sprintf("batch/%d/input", i)
		if !f.Has(inputName) {
			break
		}
		input, err := f.Float32s(inputName)
		if err != nil {
			return nil, err
		}
		b := Batch{Input: input}
		labelName := fmt.Sprintf("batch/%d/label", i)
		if f.Has(labelName) {
			label, err := f.Float32s(labelName)
			if err != nil {
				return nil, err
			}
			if len(label) != 1 {
				return nil, fmt.Errorf("engine: %s must hold one element", labelName)
			}
			b.Label = int(label[0])
			b.HasLabel = true
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, ErrNoBatches
	}
	return &FileSource{batches: batches}, nil
}

func (s *FileSource) Len() int { return len(s.batches) }

func (s *FileSource) Batch(i int) (Batch, error) {
	return s.batches[i%len(s.batches)], nil
}
