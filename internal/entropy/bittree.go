package entropy

// Layout hands out disjoint ranges of MQ context indices so that several
// models can share one coder. Allocate every model before creating the coder,
// then size the coder with Size.
type Layout struct {
	n int
}

// Alloc reserves n contexts and returns the index of the first one.
func (l *Layout) Alloc(n int) int {
	base := l.n
	l.n += n
	return base
}

// Size returns the number of contexts allocated so far.
func (l *Layout) Size() int {
	return l.n
}

// BitTree codes symbols in [0, 2^Bits) as a sequence of binary decisions,
// most significant bit first. Each internal node of the tree owns one
// adaptive context, so the model learns the full symbol distribution.
type BitTree struct {
	base int
	bits int
}

// NewBitTree allocates a bit-tree model for bits-wide symbols from l.
func NewBitTree(l *Layout, bits int) BitTree {
	// Node indices run from 1 to 2^bits-1; slot 0 is unused.
	return BitTree{base: l.Alloc(1 << bits), bits: bits}
}

// Bits returns the symbol width of the tree.
func (t BitTree) Bits() int {
	return t.bits
}

// Max returns the largest symbol the tree can code.
func (t BitTree) Max() int {
	return 1<<t.bits - 1
}

// Encode codes sym. Only the low Bits bits of sym are coded.
func (t BitTree) Encode(e *MQEncoder, sym int) {
	node := 1
	for i := t.bits - 1; i >= 0; i-- {
		b := (sym >> i) & 1
		e.Encode(t.base+node, b)
		node = node<<1 | b
	}
}

// Decode decodes a symbol coded with Encode.
func (t BitTree) Decode(d *MQDecoder) int {
	node := 1
	for i := 0; i < t.bits; i++ {
		node = node<<1 | d.Decode(t.base+node)
	}
	return node - 1<<t.bits
}

// EncodeUniformBits codes the low n bits of v, most significant first, with
// the non-adapting context.
func EncodeUniformBits(e *MQEncoder, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		e.EncodeUniform(int(v>>uint(i)) & 1)
	}
}

// DecodeUniformBits decodes n bits coded with EncodeUniformBits.
func DecodeUniformBits(d *MQDecoder, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(d.DecodeUniform())
	}
	return v
}
