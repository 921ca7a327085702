package compressed

import (
	"fmt"

	adder "github.com/mrjoshuak/go-adder"
)

// Block is a size×size grid of optional event slots, indexed row-major.
type Block struct {
	size   int
	events []adder.EventCoordless
	set    []bool
	count  int
}

// NewBlock creates an empty block.
func NewBlock(size int) *Block {
	return &Block{
		size:   size,
		events: make([]adder.EventCoordless, size*size),
		set:    make([]bool, size*size),
	}
}

// Size returns the edge length of the block.
func (b *Block) Size() int { return b.size }

// Len returns the number of slots.
func (b *Block) Len() int { return len(b.set) }

// Count returns the number of occupied slots.
func (b *Block) Count() int { return b.count }

// SetEvent stores e in slot idx. A slot can only be written once.
func (b *Block) SetEvent(e adder.EventCoordless, idx int) error {
	if idx < 0 || idx >= len(b.set) {
		return fmt.Errorf("%w: slot %d of %d", ErrOutOfCube, idx, len(b.set))
	}
	if b.set[idx] {
		return fmt.Errorf("%w: slot %d", ErrAlreadyExists, idx)
	}
	b.events[idx] = e
	b.set[idx] = true
	b.count++
	return nil
}

// Event returns the event in slot idx, if any.
func (b *Block) Event(idx int) (adder.EventCoordless, bool) {
	if idx < 0 || idx >= len(b.set) || !b.set[idx] {
		return adder.EventCoordless{}, false
	}
	return b.events[idx], true
}

// Equal reports whether both blocks have the same size and slot contents.
func (b *Block) Equal(o *Block) bool {
	if b.size != o.size || b.count != o.count {
		return false
	}
	for i := range b.set {
		if b.set[i] != o.set[i] || b.set[i] && b.events[i] != o.events[i] {
			return false
		}
	}
	return true
}

// cubeChannels is the number of channel vectors in a cube.
const cubeChannels = 3

// Cube holds every event of one tile. For each channel, block k of the
// vector receives the k-th event of each pixel.
type Cube struct {
	originY int
	originX int
	size    int
	blocks  [cubeChannels][]*Block
	open    [cubeChannels][]int
}

// NewCube creates the cube for the tile at block row blockIdxY and block
// column blockIdxX. Each channel starts with a single empty block.
func NewCube(blockIdxY, blockIdxX, size int) *Cube {
	c := &Cube{
		originY: blockIdxY * size,
		originX: blockIdxX * size,
		size:    size,
	}
	for ch := range c.blocks {
		c.blocks[ch] = []*Block{NewBlock(size)}
		c.open[ch] = make([]int, size*size)
	}
	return c
}

// Origin returns the pixel coordinates of the top-left slot.
func (c *Cube) Origin() (y, x int) {
	return c.originY, c.originX
}

// Size returns the block edge length.
func (c *Cube) Size() int { return c.size }

// SetEvent stores e in the open block of its pixel and advances that pixel
// to the next block.
func (c *Cube) SetEvent(e adder.Event) error {
	ch := e.Coord.Channel()
	y := int(e.Coord.Y) - c.originY
	x := int(e.Coord.X) - c.originX
	if ch >= cubeChannels || y < 0 || y >= c.size || x < 0 || x >= c.size {
		return fmt.Errorf("%w: (%d, %d, %d) in tile at (%d, %d)", ErrOutOfCube,
			e.Coord.X, e.Coord.Y, ch, c.originX, c.originY)
	}
	idx := y*c.size + x

	open := c.open[ch][idx]
	if open >= len(c.blocks[ch]) {
		c.blocks[ch] = append(c.blocks[ch], NewBlock(c.size))
	}
	if err := c.blocks[ch][open].SetEvent(e.Coordless(), idx); err != nil {
		return err
	}
	c.open[ch][idx]++
	return nil
}

// Blocks returns the block vector of channel ch.
func (c *Cube) Blocks(ch int) []*Block {
	if ch < 0 || ch >= cubeChannels {
		return nil
	}
	return c.blocks[ch]
}

// OpenIndex returns the index of the block that will receive the next event
// of slot idx in channel ch.
func (c *Cube) OpenIndex(ch, idx int) int {
	return c.open[ch][idx]
}

// Count returns the number of events stored for channel ch.
func (c *Cube) Count(ch int) int {
	n := 0
	for _, b := range c.Blocks(ch) {
		n += b.Count()
	}
	return n
}
