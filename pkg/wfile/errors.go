package wfile

import "errors"

var (
	ErrInvalidMagic     = errors.New("wfile: invalid FXW magic")
	ErrUnsupportedMajor = errors.New("wfile: unsupported FXW major version")
	ErrCorruptFile      = errors.New("wfile: corrupt FXW file")
	ErrTensorNotFound   = errors.New("wfile: tensor not found")
)
