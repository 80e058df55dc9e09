package wfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// TensorEntry describes one named float32 tensor inside an FXW file.
// Size is the payload size in bytes (4 bytes per element).
type TensorEntry struct {
	Name   string
	Dims   []int
	Offset uint64
	Size   uint64
}

// Elems returns the number of float32 elements in the tensor.
func (e *TensorEntry) Elems() int { return int(e.Size / 4) }

// File is a validated, read-only FXW file.
type File struct {
	Data    []byte
	Header  *Header
	Tensors []TensorEntry

	byName  map[string]int
	mmapped bool
}

// Open maps an FXW file read-only and validates its structure.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < headerSize {
		return nil, ErrCorruptFile
	}

	// Prefer mmap where available for zero-copy tensor slices.
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		wf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return wf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates an FXW from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorruptFile
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	if hdr.DirOffset < uint64(hdr.HeaderSize) || hdr.DirOffset > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	tensors := make([]TensorEntry, 0, hdr.TensorCount)
	byName := make(map[string]int, hdr.TensorCount)
	dir := data[hdr.DirOffset:]
	for i := 0; i < int(hdr.TensorCount); i++ {
		e, n, ok := decodeDirEntry(dir)
		if !ok {
			return nil, fmt.Errorf("%w: tensor directory entry %d", ErrCorruptFile, i)
		}
		dir = dir[n:]

		end := e.Offset + e.Size
		if end < e.Offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: tensor %q out of bounds", ErrCorruptFile, e.Name)
		}
		if e.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: tensor %q overlaps header", ErrCorruptFile, e.Name)
		}
		if e.Size%4 != 0 {
			return nil, fmt.Errorf("%w: tensor %q size not a multiple of 4", ErrCorruptFile, e.Name)
		}
		elems := 1
		for _, d := range e.Dims {
			if d <= 0 {
				return nil, fmt.Errorf("%w: tensor %q has dim %d", ErrCorruptFile, e.Name, d)
			}
			elems *= d
		}
		if uint64(elems)*4 != e.Size {
			return nil, fmt.Errorf("%w: tensor %q dims do not match payload", ErrCorruptFile, e.Name)
		}
		if _, dup := byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorruptFile, e.Name)
		}
		byName[e.Name] = len(tensors)
		tensors = append(tensors, e)
	}

	return &File{
		Data:    data,
		Header:  &hdr,
		Tensors: tensors,
		byName:  byName,
		mmapped: mmapped,
	}, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Tensors = nil
	f.byName = nil
	f.mmapped = false
	return err
}

// Tensor returns the directory entry for the named tensor.
func (f *File) Tensor(name string) (*TensorEntry, error) {
	i, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	return &f.Tensors[i], nil
}

// Has reports whether the named tensor exists.
func (f *File) Has(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Float32s decodes the named tensor's payload into a freshly allocated
// slice. The returned slice does not alias the underlying mapping and stays
// valid after Close.
func (f *File) Float32s(name string) ([]float32, error) {
	e, err := f.Tensor(name)
	if err != nil {
		return nil, err
	}
	raw := f.Data[e.Offset : e.Offset+e.Size]
	out := make([]float32, e.Elems())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}
