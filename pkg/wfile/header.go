// Package wfile implements FXW, the binary container for trained weights and
// calibration data: named float32 tensors with aligned payloads, a tensor
// directory at the end of the file, and a fixed header patched on Finalise.
package wfile

import "encoding/binary"

const (
	MagicFXW = "FXW\x00"

	// CurrentMajor changes only on breaking format revisions.
	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	headerSize = 40
	fxwAlign   = 64
)

type Header struct {
	Magic       [4]byte
	Major       uint16
	Minor       uint16
	HeaderSize  uint32
	TensorCount uint32
	DirOffset   uint64
	FileSize    uint64
	Flags       uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == MagicFXW && h.HeaderSize >= headerSize
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.TensorCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.DirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.TensorCount = binary.LittleEndian.Uint32(src[12:16])
	h.DirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

// Directory entry wire layout, little-endian:
//
//	nameLen uint16 | rank uint16 | offset uint64 | size uint64 | dims rank*uint32 | name nameLen bytes
const dirEntryFixedSize = 2 + 2 + 8 + 8

func encodeDirEntry(dst []byte, e TensorEntry) (int, bool) {
	need := dirEntryFixedSize + 4*len(e.Dims) + len(e.Name)
	if len(dst) < need || len(e.Name) > 0xFFFF || len(e.Dims) > 0xFFFF {
		return 0, false
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(e.Name)))
	binary.LittleEndian.PutUint16(dst[2:4], uint16(len(e.Dims)))
	binary.LittleEndian.PutUint64(dst[4:12], e.Offset)
	binary.LittleEndian.PutUint64(dst[12:20], e.Size)
	p := dirEntryFixedSize
	for _, d := range e.Dims {
		binary.LittleEndian.PutUint32(dst[p:p+4], uint32(d))
		p += 4
	}
	copy(dst[p:], e.Name)
	return need, true
}

func decodeDirEntry(src []byte) (TensorEntry, int, bool) {
	var e TensorEntry
	if len(src) < dirEntryFixedSize {
		return e, 0, false
	}
	nameLen := int(binary.LittleEndian.Uint16(src[0:2]))
	rank := int(binary.LittleEndian.Uint16(src[2:4]))
	e.Offset = binary.LittleEndian.Uint64(src[4:12])
	e.Size = binary.LittleEndian.Uint64(src[12:20])
	need := dirEntryFixedSize + 4*rank + nameLen
	if len(src) < need {
		return e, 0, false
	}
	p := dirEntryFixedSize
	e.Dims = make([]int, rank)
	for i := 0; i < rank; i++ {
		e.Dims[i] = int(binary.LittleEndian.Uint32(src[p : p+4]))
		p += 4
	}
	e.Name = string(src[p : p+nameLen])
	return e, need, true
}
