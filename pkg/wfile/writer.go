package wfile

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"sort"
)

const writerPadBufSize = 4096

// Writer builds an FXW file in a streaming fashion.
//
// The writer reserves space for the header up-front and patches it during
// Finalise. Tensor payloads are aligned so readers may take aligned views of
// the mapped file.
type Writer struct {
	f       *os.File
	tensors []TensorEntry
	seen    map[string]struct{}
	closed  bool
	flags   uint64
	padBuf  []byte
}

// NewWriter creates a new FXW writer targeting the given file.
// It truncates the file and reserves space for the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("wfile: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[string]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(fxwAlign); err != nil {
		return nil, err
	}
	return w, nil
}

// AddTensor writes one named float32 tensor. Names must be unique and the
// product of dims must equal len(data).
func (w *Writer) AddTensor(name string, dims []int, data []float32) error {
	if w.closed {
		return errors.New("wfile: writer already finalised")
	}
	if name == "" {
		return errors.New("wfile: empty tensor name")
	}
	if _, ok := w.seen[name]; ok {
		return errors.New("wfile: duplicate tensor name " + name)
	}
	elems := 1
	for _, d := range dims {
		if d <= 0 {
			return errors.New("wfile: non-positive dim in tensor " + name)
		}
		elems *= d
	}
	if elems != len(data) {
		return errors.New("wfile: dims do not match data length for tensor " + name)
	}

	if err := w.alignTo(fxwAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	if err := writeFull(w.f, buf); err != nil {
		return err
	}

	w.tensors = append(w.tensors, TensorEntry{
		Name:   name,
		Dims:   append([]int(nil), dims...),
		Offset: uint64(offset),
		Size:   uint64(len(buf)),
	})
	w.seen[name] = struct{}{}
	return nil
}

// Finalise writes the tensor directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	if w.closed {
		return errors.New("wfile: writer already finalised")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.tensors, func(i, j int) bool {
		return w.tensors[i].Name < w.tensors[j].Name
	})

	if err := w.alignTo(fxwAlign); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	for i := range w.tensors {
		e := w.tensors[i]
		buf := make([]byte, dirEntryFixedSize+4*len(e.Dims)+len(e.Name))
		if _, ok := encodeDirEntry(buf, e); !ok {
			return errors.New("wfile: encode directory entry failed")
		}
		if err := writeFull(w.f, buf); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], MagicFXW)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = headerSize
	header.TensorCount = uint32(len(w.tensors))
	header.DirOffset = uint64(dirOffset)
	header.FileSize = uint64(fileSize)
	header.Flags = w.flags

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("wfile: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
