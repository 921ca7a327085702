// Package compressed implements the block-based compressed ADΔER codec.
//
// Events are grouped spatially into square blocks. A Cube holds the full
// history of one tile: for each channel, a vector of blocks where block k
// receives the k-th event of every pixel in the tile. Blocks are coded with
// an adaptive binary arithmetic coder, visiting slots in zig-zag order so
// that neighbouring pixels are coded close together.
//
// Writer and Reader wrap the codec in a container that shares the raw stream
// header layout.
package compressed

import "errors"

// Block sizes.
const (
	// BlockSize is the edge length of a small block.
	BlockSize = 16
	// BlockSizeBig is the edge length of a big block.
	BlockSizeBig = 32
)

// Errors returned by the compressed codec.
var (
	ErrAlreadyExists   = errors.New("compressed: block slot already set")
	ErrOutOfCube       = errors.New("compressed: event outside cube")
	ErrValueOutOfRange = errors.New("compressed: value outside model range")
	ErrEndOfStream     = errors.New("compressed: end of stream")
	ErrCorrupt         = errors.New("compressed: corrupt data")
)
