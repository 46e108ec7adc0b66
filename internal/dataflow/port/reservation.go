package port

import (
	"fmt"

	"github.com/go-arcade/arcade/internal/dataflow/datatype"
	"github.com/go-arcade/arcade/pkg/ringbuffer"
)

// Policy is a port's slot-count bounds (spec §4.3/§6): how many slots it
// is built with and how far it may grow on demand during connection
// reservation.
type Policy struct {
	MinSlots int
	MaxSlots int
}

// NormalizePolicy fills in a policy from a processor's declared
// MinSlots/MaxSlots, falling back to a fixed block of numSlots (no
// growth) when a processor declares neither — preserving the original
// one-shot sizing for ports that don't opt into the reservation model.
func NormalizePolicy(minSlots, maxSlots, numSlots int) Policy {
	if minSlots <= 0 && maxSlots <= 0 {
		n := numSlots
		if n <= 0 {
			n = 1
		}
		return Policy{MinSlots: n, MaxSlots: n}
	}
	if minSlots <= 0 {
		minSlots = 1
	}
	if maxSlots < minSlots {
		maxSlots = minSlots
	}
	return Policy{MinSlots: minSlots, MaxSlots: maxSlots}
}

// OutputPort owns every slot of one named output port and implements
// spec §4.3's reserve_slot for the output side.
type OutputPort struct {
	policy  Policy
	bufSize int64
	wait    ringbuffer.WaitStrategy
	factory func() datatype.Item
	addr    func(i int) Address

	slots    []*OutputSlot
	refs     []int // number of connected consumers per slot index
	fanoutAt int    // next index handed out once every slot has a consumer
}

// NewOutputPort pre-allocates policy.MinSlots output slots.
func NewOutputPort(policy Policy, bufSize int64, wait ringbuffer.WaitStrategy, factory func() datatype.Item, addr func(i int) Address) (*OutputPort, error) {
	p := &OutputPort{policy: policy, bufSize: bufSize, wait: wait, factory: factory, addr: addr}
	if err := p.growTo(policy.MinSlots); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *OutputPort) growTo(n int) error {
	for len(p.slots) < n {
		i := len(p.slots)
		slot, err := NewOutputSlot(p.addr(i), p.bufSize, p.wait, p.factory)
		if err != nil {
			return err
		}
		p.slots = append(p.slots, slot)
		p.refs = append(p.refs, 0)
	}
	return nil
}

// NumSlots reports how many slots currently exist (may grow via ReserveSlot).
func (p *OutputPort) NumSlots() int { return len(p.slots) }

// Slot returns slot i, or nil if it doesn't exist yet.
func (p *OutputPort) Slot(i int) *OutputSlot {
	if i < 0 || i >= len(p.slots) {
		return nil
	}
	return p.slots[i]
}

// Slots returns every currently allocated slot, for Graph to gate and
// terminate them as a group.
func (p *OutputPort) Slots() []*OutputSlot { return p.slots }

// ReserveSlot implements spec §4.3's output-side reserve_slot: a negative
// request picks the first slot with no connected consumer yet, falling
// back to round-robin fan-out once every slot already has one; an
// explicit index that already exists is returned directly, whether or
// not it already has consumers (one output slot fanning out to many
// inputs is allowed); an explicit index equal to the current slot count
// grows the port by one when MaxSlots allows it.
func (p *OutputPort) ReserveSlot(requested int) (int, error) {
	if requested < 0 {
		for i, n := range p.refs {
			if n == 0 {
				return i, nil
			}
		}
		if len(p.slots) == 0 {
			return 0, fmt.Errorf("port: output port has no slots to reserve from")
		}
		i := p.fanoutAt % len(p.slots)
		p.fanoutAt++
		return i, nil
	}
	if requested < len(p.slots) {
		return requested, nil
	}
	if requested == len(p.slots) && requested < p.policy.MaxSlots {
		if err := p.growTo(requested + 1); err != nil {
			return 0, err
		}
		return requested, nil
	}
	return 0, fmt.Errorf("port: output slot index %d out of range (have %d, max %d)", requested, len(p.slots), p.policy.MaxSlots)
}

// MarkConnected records that slot i has gained one more connected
// consumer, for ReserveSlot's fan-out bookkeeping. Called by Graph after
// InputSlot.Connect succeeds.
func (p *OutputPort) MarkConnected(i int) { p.refs[i]++ }

// InputPort owns every slot of one named input port and implements spec
// §4.3's reserve_slot for the input side.
type InputPort struct {
	policy       Policy
	cacheEnabled bool
	metrics      SlotMetrics
	addr         func(i int) Address

	slots     []*InputSlot
	connected []bool
}

// NewInputPort pre-allocates policy.MinSlots input slots.
func NewInputPort(policy Policy, cacheEnabled bool, metrics SlotMetrics, addr func(i int) Address) (*InputPort, error) {
	p := &InputPort{policy: policy, cacheEnabled: cacheEnabled, metrics: metrics, addr: addr}
	if err := p.growTo(policy.MinSlots); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *InputPort) growTo(n int) error {
	for len(p.slots) < n {
		i := len(p.slots)
		in := NewInputSlot(p.addr(i), p.cacheEnabled)
		if p.metrics != nil {
			in.SetMetrics(p.metrics)
		}
		p.slots = append(p.slots, in)
		p.connected = append(p.connected, false)
	}
	return nil
}

// NumSlots reports how many slots currently exist (may grow via ReserveSlot).
func (p *InputPort) NumSlots() int { return len(p.slots) }

// Slot returns slot i, or nil if it doesn't exist yet.
func (p *InputPort) Slot(i int) *InputSlot {
	if i < 0 || i >= len(p.slots) {
		return nil
	}
	return p.slots[i]
}

// Slots returns every currently allocated slot, for Graph to gate them as
// a group.
func (p *InputPort) Slots() []*InputSlot { return p.slots }

// ReserveSlot implements spec §4.3's input-side reserve_slot: a negative
// request picks the first unconnected slot, failing if every slot
// already has an upstream (an input slot accepts exactly one); an
// explicit index that already exists is returned if not yet connected,
// and rejected with ErrAlreadyConnected if it is; an explicit index equal
// to the current slot count grows the port by one when MaxSlots allows.
func (p *InputPort) ReserveSlot(requested int) (int, error) {
	if requested < 0 {
		for i, connected := range p.connected {
			if !connected {
				return i, nil
			}
		}
		return 0, fmt.Errorf("port: input port has no free slot")
	}
	if requested < len(p.slots) {
		if p.connected[requested] {
			return 0, fmt.Errorf("%w: slot %d", ErrAlreadyConnected, requested)
		}
		return requested, nil
	}
	if requested == len(p.slots) && requested < p.policy.MaxSlots {
		if err := p.growTo(requested + 1); err != nil {
			return 0, err
		}
		return requested, nil
	}
	return 0, fmt.Errorf("port: input slot index %d out of range (have %d, max %d)", requested, len(p.slots), p.policy.MaxSlots)
}

// MarkConnected records slot i as connected, for ReserveSlot's forbidden-
// double-connect check. Called by Graph after InputSlot.Connect succeeds.
func (p *InputPort) MarkConnected(i int) { p.connected[i] = true }
