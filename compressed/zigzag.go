package compressed

var (
	zigzagSmall = zigzag(BlockSize)
	zigzagBig   = zigzag(BlockSizeBig)
)

// ZigZagOrder returns the zig-zag traversal of a size×size block as
// row-major slot indices. The tables for BlockSize and BlockSizeBig are
// shared and must not be modified.
func ZigZagOrder(size int) []int {
	switch size {
	case BlockSize:
		return zigzagSmall
	case BlockSizeBig:
		return zigzagBig
	}
	return zigzag(size)
}

// zigzag walks the anti-diagonals of the block, alternating direction, as in
// the JPEG coefficient scan.
func zigzag(n int) []int {
	if n <= 0 {
		return nil
	}
	order := make([]int, 0, n*n)
	for s := 0; s <= 2*(n-1); s++ {
		if s%2 == 0 {
			// Upwards: row decreasing
			row := min(s, n-1)
			for ; row >= 0 && s-row < n; row-- {
				order = append(order, row*n+s-row)
			}
		} else {
			// Downwards: row increasing
			row := max(0, s-(n-1))
			for ; row < n && s-row >= 0; row++ {
				order = append(order, row*n+s-row)
			}
		}
	}
	return order
}
