package compressed

import (
	"fmt"
	"math/bits"

	adder "github.com/mrjoshuak/go-adder"
	"github.com/mrjoshuak/go-adder/internal/entropy"
)

// maxModelD bounds ModelParams.DMax so the D alphabet fits a 5-bit tree.
const maxModelD = 29

// Magnitude classes of a zig-zag mapped delta_t residual: bits.Len64 of a
// value below 2^33.
const (
	classBits   = 6
	maxClass    = 33
	mantissaCtx = 2
)

// Presence context states.
const (
	presenceStart = iota
	presenceAfterAbsent
	presenceAfterPresent
	numPresence
)

// ModelParams bounds the values a model can code.
type ModelParams struct {
	// DeltaTMax is the largest delta_t of any event.
	DeltaTMax uint32
	// DMax is the largest regular D value. DEmpty and DZeroIntegration are
	// always codable.
	DMax uint8
}

// DefaultModelParams returns parameters for a stream with the given
// delta_t_max.
func DefaultModelParams(deltaTMax uint32) ModelParams {
	return ModelParams{DeltaTMax: deltaTMax, DMax: adder.DMax}
}

// Validate checks that the parameters describe a usable model.
func (p ModelParams) Validate() error {
	if p.DMax > maxModelD {
		return fmt.Errorf("%w: DMax %d > %d", ErrValueOutOfRange, p.DMax, maxModelD)
	}
	return nil
}

// model is the context layout shared by the encoder and decoder.
type model struct {
	params ModelParams
	size   int
	order  []int

	zeroIntSym int
	emptySym   int
	noneSym    int

	presence int
	dTrees   []entropy.BitTree
	// classTrees[0] codes regular events, classTrees[1] empty and
	// zero-integration events.
	classTrees [2]entropy.BitTree
	mantissa   int

	numContexts int
}

func newModel(size int, p ModelParams) (*model, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrValueOutOfRange, size)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &model{
		params:     p,
		size:       size,
		order:      ZigZagOrder(size),
		zeroIntSym: int(p.DMax) + 1,
		emptySym:   int(p.DMax) + 2,
		noneSym:    int(p.DMax) + 3,
	}

	var l entropy.Layout
	m.presence = l.Alloc(numPresence)
	dBits := bits.Len(uint(m.emptySym))
	// One tree per previous symbol, plus one for the first event of a block.
	m.dTrees = make([]entropy.BitTree, m.noneSym+1)
	for i := range m.dTrees {
		m.dTrees[i] = entropy.NewBitTree(&l, dBits)
	}
	for i := range m.classTrees {
		m.classTrees[i] = entropy.NewBitTree(&l, classBits)
	}
	m.mantissa = l.Alloc((maxClass + 1) * mantissaCtx)
	m.numContexts = l.Size()
	return m, nil
}

// symbol maps a D value to the model alphabet.
func (m *model) symbol(d adder.D) (int, bool) {
	switch {
	case d == adder.DEmpty:
		return m.emptySym, true
	case d == adder.DZeroIntegration:
		return m.zeroIntSym, true
	case d <= m.params.DMax:
		return int(d), true
	}
	return 0, false
}

// d maps a model symbol back to a D value.
func (m *model) d(sym int) (adder.D, bool) {
	switch {
	case sym == m.emptySym:
		return adder.DEmpty, true
	case sym == m.zeroIntSym:
		return adder.DZeroIntegration, true
	case sym <= int(m.params.DMax):
		return adder.D(sym), true
	}
	return 0, false
}

func (m *model) check(b *Block) error {
	if b.Size() != m.size {
		return fmt.Errorf("%w: block size %d, model size %d", ErrValueOutOfRange, b.Size(), m.size)
	}
	for idx := 0; idx < b.Len(); idx++ {
		ev, ok := b.Event(idx)
		if !ok {
			continue
		}
		if _, ok := m.symbol(ev.D); !ok {
			return fmt.Errorf("%w: slot %d D %d", ErrValueOutOfRange, idx, ev.D)
		}
		if ev.DeltaT > m.params.DeltaTMax {
			return fmt.Errorf("%w: slot %d delta_t %d", ErrValueOutOfRange, idx, ev.DeltaT)
		}
	}
	return nil
}

// zigzagMap folds a signed residual onto the unsigned integers.
func zigzagMap(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func zigzagUnmap(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// classTree selects the magnitude class tree for symbol sym.
func (m *model) classTree(sym int) entropy.BitTree {
	if sym == m.emptySym || sym == m.zeroIntSym {
		return m.classTrees[1]
	}
	return m.classTrees[0]
}

// ModelEncoder codes blocks into a single arithmetic-coded payload.
// A ModelEncoder is not safe for concurrent use.
type ModelEncoder struct {
	m      *model
	enc    *entropy.MQEncoder
	blocks int
}

// NewModelEncoder creates an encoder for size×size blocks.
func NewModelEncoder(size int, p ModelParams) (*ModelEncoder, error) {
	m, err := newModel(size, p)
	if err != nil {
		return nil, err
	}
	return &ModelEncoder{m: m, enc: entropy.NewMQEncoder(m.numContexts)}, nil
}

// Pending returns the number of blocks coded since the last Flush.
func (e *ModelEncoder) Pending() int {
	return e.blocks
}

// EncodeBlock appends b to the current payload. The block is checked before
// anything is coded, so a rejected block leaves the payload unchanged.
func (e *ModelEncoder) EncodeBlock(b *Block) error {
	m := e.m
	if err := m.check(b); err != nil {
		return err
	}

	presence := presenceStart
	prevSym := m.noneSym
	var prevDt int64
	for _, idx := range m.order {
		ev, ok := b.Event(idx)
		if !ok {
			e.enc.Encode(m.presence+presence, 0)
			presence = presenceAfterAbsent
			continue
		}
		e.enc.Encode(m.presence+presence, 1)
		presence = presenceAfterPresent

		sym, _ := m.symbol(ev.D)
		m.dTrees[prevSym].Encode(e.enc, sym)

		u := zigzagMap(int64(ev.DeltaT) - prevDt)
		class := bits.Len64(u)
		m.classTree(sym).Encode(e.enc, class)
		// The leading mantissa bits are modelled; the tail is coded flat.
		tail := max(class-1-mantissaCtx, 0)
		for pos := 0; pos < class-1-tail; pos++ {
			bit := int(u>>uint(class-2-pos)) & 1
			e.enc.Encode(m.mantissa+class*mantissaCtx+pos, bit)
		}
		entropy.EncodeUniformBits(e.enc, u, tail)

		prevSym = sym
		prevDt = int64(ev.DeltaT)
	}
	e.blocks++
	return nil
}

// Flush terminates the payload and returns it. The coder and every model
// context are reset, so the next payload is independent of this one.
func (e *ModelEncoder) Flush() []byte {
	e.blocks = 0
	return e.enc.Flush()
}

// ModelDecoder decodes blocks coded by a ModelEncoder with the same block
// size and parameters. A ModelDecoder is not safe for concurrent use.
//
// A payload that was not produced by a matching encoder decodes to garbage
// or fails with ErrCorrupt; there is no way to resynchronise within a
// payload.
type ModelDecoder struct {
	m   *model
	dec *entropy.MQDecoder
}

// NewModelDecoder creates a decoder for size×size blocks.
func NewModelDecoder(size int, p ModelParams) (*ModelDecoder, error) {
	m, err := newModel(size, p)
	if err != nil {
		return nil, err
	}
	return &ModelDecoder{m: m, dec: entropy.NewMQDecoder(m.numContexts, nil)}, nil
}

// Reset starts decoding payload with freshly initialised contexts.
func (d *ModelDecoder) Reset(payload []byte) {
	d.dec.Reset(payload)
}

// Overrun reports how far decoding has read past the end of the payload,
// in bytes.
func (d *ModelDecoder) Overrun() int {
	return d.dec.Overrun()
}

// DecodeBlock decodes the next block of the payload.
func (d *ModelDecoder) DecodeBlock() (*Block, error) {
	m := d.m
	b := NewBlock(m.size)

	presence := presenceStart
	prevSym := m.noneSym
	var prevDt int64
	for _, idx := range m.order {
		if d.dec.Decode(m.presence+presence) == 0 {
			presence = presenceAfterAbsent
			continue
		}
		presence = presenceAfterPresent

		sym := m.dTrees[prevSym].Decode(d.dec)
		dv, ok := m.d(sym)
		if !ok {
			return nil, fmt.Errorf("%w: D symbol %d at slot %d", ErrCorrupt, sym, idx)
		}

		class := m.classTree(sym).Decode(d.dec)
		if class > maxClass {
			return nil, fmt.Errorf("%w: delta_t class %d at slot %d", ErrCorrupt, class, idx)
		}
		var u uint64
		if class > 0 {
			u = 1
			tail := max(class-1-mantissaCtx, 0)
			for pos := 0; pos < class-1-tail; pos++ {
				u = u<<1 | uint64(d.dec.Decode(m.mantissa+class*mantissaCtx+pos))
			}
			u = u<<uint(tail) | entropy.DecodeUniformBits(d.dec, tail)
		}
		dt := prevDt + zigzagUnmap(u)
		if dt < 0 || dt > int64(m.params.DeltaTMax) {
			return nil, fmt.Errorf("%w: delta_t %d at slot %d", ErrCorrupt, dt, idx)
		}

		b.events[idx] = adder.EventCoordless{D: dv, DeltaT: adder.DeltaT(dt)}
		b.set[idx] = true
		b.count++

		prevSym = sym
		prevDt = dt
	}
	return b, nil
}
