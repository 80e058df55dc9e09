package netdesc

import "errors"

var (
	ErrNoLayers         = errors.New("netdesc: description has no layers")
	ErrDuplicateLayer   = errors.New("netdesc: duplicate layer name")
	ErrUnknownLayerType = errors.New("netdesc: unknown layer type")
	ErrUnnamedLayer     = errors.New("netdesc: layer without a name")
)
