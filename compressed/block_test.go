package compressed

import (
	"errors"
	"testing"

	adder "github.com/mrjoshuak/go-adder"
)

func TestZigZagOrder(t *testing.T) {
	// JPEG 8x8 scan prefix
	want8 := []int{0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18, 11, 4, 5}
	got := ZigZagOrder(8)
	for i, w := range want8 {
		if got[i] != w {
			t.Fatalf("ZigZagOrder(8)[%d] = %d, want %d", i, got[i], w)
		}
	}
	if got[63] != 63 {
		t.Errorf("last index = %d, want 63", got[63])
	}

	for _, size := range []int{1, 2, 3, BlockSize, BlockSizeBig} {
		order := ZigZagOrder(size)
		if len(order) != size*size {
			t.Fatalf("size %d: len = %d", size, len(order))
		}
		seen := make([]bool, size*size)
		for i, idx := range order {
			if seen[idx] {
				t.Fatalf("size %d: index %d visited twice", size, idx)
			}
			seen[idx] = true
			if i == 0 {
				continue
			}
			// Consecutive slots are 8-neighbours.
			prev := order[i-1]
			dy := idx/size - prev/size
			dx := idx%size - prev%size
			if dy < -1 || dy > 1 || dx < -1 || dx > 1 {
				t.Fatalf("size %d: jump from %d to %d", size, prev, idx)
			}
		}
	}
}

func TestBlock_SetEvent(t *testing.T) {
	b := NewBlock(BlockSize)
	if b.Len() != 256 || b.Count() != 0 {
		t.Fatalf("Len() = %d, Count() = %d", b.Len(), b.Count())
	}
	ev := adder.EventCoordless{D: 7, DeltaT: 100}
	if err := b.SetEvent(ev, 17); err != nil {
		t.Fatal(err)
	}
	if got, ok := b.Event(17); !ok || got != ev {
		t.Errorf("Event(17) = %+v, %v", got, ok)
	}
	if _, ok := b.Event(18); ok {
		t.Error("Event(18) should be empty")
	}
	if err := b.SetEvent(ev, 17); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second SetEvent = %v, want ErrAlreadyExists", err)
	}
	if err := b.SetEvent(ev, 256); !errors.Is(err, ErrOutOfCube) {
		t.Errorf("SetEvent(256) = %v, want ErrOutOfCube", err)
	}
	if b.Count() != 1 {
		t.Errorf("Count() = %d, want 1", b.Count())
	}
}

func TestCube_SetEvent(t *testing.T) {
	c := NewCube(0, 0, BlockSize)
	err := c.SetEvent(adder.Event{Coord: adder.Coord{X: 0, Y: 0, C: 0}, D: 7, DeltaT: 100})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.OpenIndex(0, 0); got != 1 {
		t.Errorf("OpenIndex(0, 0) = %d, want 1", got)
	}
	for ch := 0; ch < 3; ch++ {
		if n := len(c.Blocks(ch)); n != 1 {
			t.Errorf("channel %d has %d blocks, want 1", ch, n)
		}
	}
	for ch := 1; ch < 3; ch++ {
		if c.Blocks(ch)[0].Count() != 0 || c.OpenIndex(ch, 0) != 0 {
			t.Errorf("channel %d was modified", ch)
		}
	}
}

func TestCube_RepeatVisits(t *testing.T) {
	c := NewCube(2, 3, BlockSize)
	y, x := c.Origin()
	if y != 32 || x != 48 {
		t.Fatalf("Origin() = (%d, %d), want (32, 48)", y, x)
	}
	coord := adder.Coord{X: 50, Y: 40, C: 2}
	for i := 0; i < 3; i++ {
		if err := c.SetEvent(adder.Event{Coord: coord, D: uint8(i), DeltaT: uint32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	idx := (40-32)*BlockSize + (50 - 48)
	blocks := c.Blocks(2)
	if len(blocks) != 3 {
		t.Fatalf("len(Blocks(2)) = %d, want 3", len(blocks))
	}
	for i, b := range blocks {
		ev, ok := b.Event(idx)
		if !ok || ev.D != uint8(i) {
			t.Errorf("block %d: %+v, %v", i, ev, ok)
		}
	}
	if c.OpenIndex(2, idx) != 3 {
		t.Errorf("OpenIndex = %d, want 3", c.OpenIndex(2, idx))
	}

	// A second pixel reuses the existing blocks.
	if err := c.SetEvent(adder.Event{Coord: adder.Coord{X: 48, Y: 32, C: 2}, D: 1, DeltaT: 1}); err != nil {
		t.Fatal(err)
	}
	if len(c.Blocks(2)) != 3 || c.Count(2) != 4 {
		t.Errorf("blocks = %d, count = %d", len(c.Blocks(2)), c.Count(2))
	}
}

func TestCube_OutOfCube(t *testing.T) {
	c := NewCube(1, 1, BlockSize)
	tests := []adder.Coord{
		{X: 15, Y: 16},
		{X: 16, Y: 15},
		{X: 32, Y: 16},
		{X: 16, Y: 32},
		{X: 16, Y: 16, C: 3},
	}
	for _, coord := range tests {
		if err := c.SetEvent(adder.Event{Coord: coord}); !errors.Is(err, ErrOutOfCube) {
			t.Errorf("SetEvent(%+v) = %v, want ErrOutOfCube", coord, err)
		}
	}
}
