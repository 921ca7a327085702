// Package pixeltree implements the per-pixel integration state machine that
// turns a stream of intensity samples into ADΔER events.
//
// A PixelNode integrates light until it reaches 2^D, at which point it records
// a pending event and raises D. The light that overshot the threshold is
// integrated into an alternate node sized to the sample, so one sample can
// produce a chain of pending events. PopBestEvents drains the chain and folds the
// unfired remainder back into the root.
package pixeltree

import (
	"errors"
	"math"

	adder "github.com/mrjoshuak/go-adder"
)

var (
	// ErrNoBestEvent is returned when popping a node that has not fired.
	ErrNoBestEvent = errors.New("pixeltree: no pending event")

	// ErrBrokenChain is returned when a node without a pending event still
	// owns an alternate branch.
	ErrBrokenChain = errors.New("pixeltree: alternate branch below an unfired node")
)

// State is the integration state of a single node.
type State struct {
	D           adder.D
	Integration float32
	DeltaT      float32
}

// PixelNode is one node of a pixel integration chain. An alternate node
// starts at the D of the sample that created it.
type PixelNode struct {
	alt   *PixelNode
	state State
	best  *adder.EventCoordless
}

// New returns a node whose D is the largest value with 2^D <= startIntensity,
// clamped to [0, DMax].
func New(startIntensity float32) *PixelNode {
	return &PixelNode{state: State{D: startD(startIntensity)}}
}

func startD(intensity float32) adder.D {
	if !(intensity >= 1) {
		return 0
	}
	d := math.Floor(math.Log2(float64(intensity)))
	if d > float64(adder.DMax) {
		return adder.DMax
	}
	return adder.D(d)
}

// D returns the current decimation of the node.
func (n *PixelNode) D() adder.D { return n.state.D }

// Integration returns the light integrated since the last pop.
func (n *PixelNode) Integration() float32 { return n.state.Integration }

// DeltaT returns the time integrated since the last pop.
func (n *PixelNode) DeltaT() float32 { return n.state.DeltaT }

// State returns a copy of the node state.
func (n *PixelNode) State() State { return n.state }

// Alt returns the alternate node, or nil.
func (n *PixelNode) Alt() *PixelNode { return n.alt }

// BestEvent returns the pending event of the node, if it has fired.
func (n *PixelNode) BestEvent() (adder.EventCoordless, bool) {
	if n.best == nil {
		return adder.EventCoordless{}, false
	}
	return *n.best, true
}

// Integrate adds intensity units of light collected over time ticks.
// Samples that carry no light only advance time.
func (n *PixelNode) Integrate(intensity, time float32) {
	if !(intensity > 0) {
		for node := n; node != nil; node = node.alt {
			node.state.DeltaT += time
		}
		return
	}

	threshold := float32(adder.DShift[n.state.D])
	if n.state.Integration+intensity < threshold {
		n.state.Integration += intensity
		n.state.DeltaT += time
		if n.alt != nil {
			n.alt.Integrate(intensity, time)
		}
		return
	}

	prop := (threshold - n.state.Integration) / intensity
	residual := intensity - intensity*prop
	if prop < 0 {
		// Earlier samples already crossed the threshold, so the event fires
		// at the start of this one.
		prop = 0
		residual = n.state.Integration + intensity - threshold
	}
	prop = min(prop, 1)
	n.best = &adder.EventCoordless{
		D:      n.state.D,
		DeltaT: adder.DeltaT(n.state.DeltaT + time*prop),
	}
	if n.state.D < adder.DMax {
		n.state.D++
	}
	n.state.Integration += intensity
	n.state.DeltaT += time

	if residual > 0 {
		n.alt = New(intensity)
		n.alt.Integrate(residual, time-time*prop)
	} else {
		n.alt = nil
	}
}

// PopBestEvents drains the pending events of the chain, root first. The state
// of the first node that has not fired becomes the new root state; if every
// node fired, the root restarts empty at the deepest node's D.
func (n *PixelNode) PopBestEvents() ([]adder.EventCoordless, error) {
	if n.best == nil {
		return nil, ErrNoBestEvent
	}

	var events []adder.EventCoordless
	node := n
	var residual State
	for {
		if node.best == nil {
			if node.alt != nil {
				return nil, ErrBrokenChain
			}
			residual = node.state
			break
		}
		events = append(events, *node.best)
		if node.alt == nil {
			residual = State{D: node.state.D}
			break
		}
		node = node.alt
	}

	n.state = residual
	n.alt = nil
	n.best = nil
	return events, nil
}
