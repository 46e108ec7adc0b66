// Package port implements the Port/Slot model a processor's inputs and
// outputs are built from: an OutputSlot owns a ring buffer and publishes
// into it, and any number of InputSlots connect to it and consume
// independently (fan-out). Slots are addressed as portName[index] so a
// processor can expose an array of same-shaped ports (e.g. one per
// recording channel group).
package port

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-arcade/arcade/internal/dataflow/datatype"
	"github.com/go-arcade/arcade/pkg/ringbuffer"
)

// ErrNotConnected is returned by Retrieve when an InputSlot has not been
// wired to a producer's OutputSlot.
var ErrNotConnected = errors.New("port: slot has no connected source")

// ErrNoClaim is returned by OutputSlot.Publish when called without a
// preceding ClaimOne/ClaimMany.
var ErrNoClaim = errors.New("port: publish called with nothing claimed")

// ErrAlreadyConnected is returned by InputSlot.Connect when the slot
// already has an upstream: an input slot accepts exactly one producer
// (spec §4.3's slot reservation table).
var ErrAlreadyConnected = errors.New("port: input slot already connected")

// WaitStrategyFor resolves a port policy's wait_strategy name to a
// concrete ringbuffer.WaitStrategy. An empty name defaults to blocking,
// the spec's default for a ring buffer's policy (spec §6).
func WaitStrategyFor(kind string) (ringbuffer.WaitStrategy, error) {
	switch kind {
	case "", "blocking":
		return ringbuffer.NewBlockingWaitStrategy(), nil
	case "sleeping":
		return ringbuffer.NewSleepWaitStrategy(0), nil
	case "yielding":
		return &ringbuffer.YieldingWaitStrategy{}, nil
	case "busy-spin":
		return &ringbuffer.BusySpinWaitStrategy{}, nil
	default:
		return nil, fmt.Errorf("port: unknown wait_strategy %q", kind)
	}
}

// TimeoutFromMicros converts a policy's time_out_us into the
// time.Duration RetrieveOne/RetrieveN/RetrieveAll expect, honoring spec
// §3's "-1 = infinite" sentinel.
func TimeoutFromMicros(us int64) time.Duration {
	if us < 0 {
		return ringbuffer.InfiniteWait
	}
	return time.Duration(us) * time.Microsecond
}

// Address identifies one slot of one named port on one processor.
type Address struct {
	Processor string
	Port      string
	Index     int
}

func (a Address) String() string {
	return fmt.Sprintf("%s.%s[%d]", a.Processor, a.Port, a.Index)
}

// MaxNMessages is the spec §4.3 throttle for the input-slot high-water
// warning: it is logged at most once per this many retrieves while the
// backlog stays above the 0.85 threshold, so a sustained backlog doesn't
// flood the log.
const MaxNMessages = 1000

// HighWaterFraction is the fraction of an input slot's buffer size beyond
// which a sustained backlog is worth a warning (spec §4.3).
const HighWaterFraction = 0.85

// SlotMetrics receives backlog telemetry from an InputSlot. Graph wires a
// Prometheus-backed implementation (see NewPrometheusSlotMetrics) when a
// metrics server is enabled; the zero value of InputSlot uses a no-op.
type SlotMetrics interface {
	SetBacklog(addr Address, backlog int64)
	HighWaterWarning(addr Address, backlog, bufferSize int64)
}

type noopMetrics struct{}

func (noopMetrics) SetBacklog(Address, int64)            {}
func (noopMetrics) HighWaterWarning(Address, int64, int64) {}

// OutputSlot is the producing half of a connection: it owns the ring
// buffer backing the port and publishes items into it. Any number of
// InputSlots may connect to the same OutputSlot. Ring cells are
// factory-preallocated (spec §9): ClaimOne/ClaimMany hand back the same
// long-lived instances lap after lap, cleared rather than reconstructed.
type OutputSlot struct {
	Address Address
	Stream  StreamInfo

	ring    *ringbuffer.RingBuffer[datatype.Item]
	serial  uint64 // this slot's own monotonic producer serial number
	pending ringbuffer.Batch
	claimed bool
}

// NewOutputSlot allocates the ring buffer backing this slot, pre-populated
// by factory. capacity must be a power of two (spec §4.2's buffer-size
// invariant).
func NewOutputSlot(addr Address, capacity int64, wait ringbuffer.WaitStrategy, factory func() datatype.Item) (*OutputSlot, error) {
	rb, err := ringbuffer.NewRingBufferWithFactory[datatype.Item](capacity, wait, factory)
	if err != nil {
		return nil, err
	}
	return &OutputSlot{Address: addr, ring: rb}, nil
}

// Ring exposes the underlying ring buffer so Graph can wire gating
// sequences and InputSlots can build consumers against it.
func (o *OutputSlot) Ring() *ringbuffer.RingBuffer[datatype.Item] { return o.ring }

// ClaimOne reserves the next slot, stamps it with this slot's producer
// serial number, optionally clears it via ClearData, and returns it for
// the caller to fill before Publish. The runtime owns SerialNum; domain
// code should read Header(), set its own Source/HardwareTimestamp fields,
// and call SetHeader with the same SerialNum rather than overwrite it.
func (o *OutputSlot) ClaimOne(clear bool) datatype.Item {
	o.pending = o.ring.Claim(1)
	o.claimed = true
	item := *o.ring.Get(o.pending.Start)
	if clear {
		item.ClearData()
	}
	o.serial++
	h := item.Header()
	h.SerialNum = o.serial
	item.SetHeader(h)
	return item
}

// ClaimMany reserves n contiguous slots for a batched publish, stamping
// each with its own serial number in order.
func (o *OutputSlot) ClaimMany(n int64, clear bool) []datatype.Item {
	o.pending = o.ring.Claim(n)
	o.claimed = true
	items := make([]datatype.Item, 0, n)
	for seq := o.pending.Start; seq <= o.pending.End; seq++ {
		item := *o.ring.Get(seq)
		if clear {
			item.ClearData()
		}
		o.serial++
		h := item.Header()
		h.SerialNum = o.serial
		item.SetHeader(h)
		items = append(items, item)
	}
	return items
}

// Publish makes the most recently claimed batch visible to every connected
// consumer at once. It is the caller's responsibility to have filled
// every claimed item first (spec §4.3): the runtime does not validate
// payload contents.
func (o *OutputSlot) Publish() error {
	if !o.claimed {
		return ErrNoClaim
	}
	o.ring.PublishBatch(o.pending)
	o.claimed = false
	return nil
}

// Seal finalizes this slot's gating sequences ahead of time. The ring also
// seals itself on its first publish or claim, so calling Seal is optional.
func (o *OutputSlot) Seal() { o.ring.Seal() }

// Terminate unblocks any consumer or producer parked on this slot's ring
// by force-publishing the termination sentinel.
func (o *OutputSlot) Terminate() { o.ring.ForcePublish(ringbuffer.TerminatedSequenceValue) }

// Status is what InputSlot.Retrieve* hands back alongside the retrieved
// items (spec §4.3): whether the upstream is still live, how many items
// were handed to the caller this call, and the producer's backlog beyond
// what this consumer has retrieved (not yet released).
type Status struct {
	Alive   bool
	Read    int
	Backlog int64
}

// InputSlot is the consuming half of a connection. It tracks its own read
// sequence via a ringbuffer.Consumer and implements the spec's
// retrieve/release protocol with one-item caching on timeout.
type InputSlot struct {
	Address Address
	Stream  StreamInfo

	source   *OutputSlot
	consumer *ringbuffer.Consumer

	// retrievedUpTo is the highest sequence already handed to the caller
	// but not yet released; consumer.Sequence() tracks only the released
	// (gating) position, which Release() advances to retrievedUpTo.
	retrievedUpTo int64

	cacheEnabled bool
	cachedItem   datatype.Item
	cacheValid   bool

	metrics        SlotMetrics
	sinceHighWater uint64
}

// NewInputSlot creates an unconnected input slot; Connect must be called
// before Retrieve* will succeed.
func NewInputSlot(addr Address, cacheEnabled bool) *InputSlot {
	return &InputSlot{
		Address:       addr,
		cacheEnabled:  cacheEnabled,
		retrievedUpTo: ringbuffer.InitialSequenceValue,
		metrics:       noopMetrics{},
	}
}

// SetMetrics wires a SlotMetrics sink for this input slot's backlog gauge
// and high-water warnings. Graph calls this at build time when a metrics
// server is configured; otherwise the slot uses a no-op sink.
func (in *InputSlot) SetMetrics(m SlotMetrics) {
	if m != nil {
		in.metrics = m
	}
}

// Connect wires this input to a producer's output, registering a consumer
// against its ring buffer. Must happen during graph build, before the
// source's ring buffer is sealed. Returns ErrAlreadyConnected if this
// slot already has an upstream — an input slot accepts exactly one
// producer.
func (in *InputSlot) Connect(src *OutputSlot) error {
	if in.source != nil {
		return ErrAlreadyConnected
	}
	in.source = src
	in.consumer = ringbuffer.NewConsumer(src.Ring().NewBarrier())
	in.retrievedUpTo = in.consumer.Sequence().Get()
	in.Stream = src.Stream
	return nil
}

// Source returns the connected producer's OutputSlot, or nil if this input
// has not been connected.
func (in *InputSlot) Source() *OutputSlot { return in.source }

// GatingSequence returns the sequence the connected producer must stay
// behind, for Graph to collect across every consumer of an OutputSlot
// before calling SetGatingSequences.
func (in *InputSlot) GatingSequence() *ringbuffer.Sequence {
	if in.consumer == nil {
		return nil
	}
	return in.consumer.Sequence()
}

func (in *InputSlot) backlog() int64 {
	cur := in.source.Ring().Cursor().Get()
	if cur == ringbuffer.TerminatedSequenceValue {
		return 0
	}
	b := cur - in.retrievedUpTo
	if b < 0 {
		b = 0
	}
	return b
}

func (in *InputSlot) reportBacklog(backlog int64) {
	in.metrics.SetBacklog(in.Address, backlog)
	bufferSize := in.source.Ring().Capacity()
	if float64(backlog) <= HighWaterFraction*float64(bufferSize) {
		in.sinceHighWater = 0
		return
	}
	if in.sinceHighWater%MaxNMessages == 0 {
		in.metrics.HighWaterWarning(in.Address, backlog, bufferSize)
	}
	in.sinceHighWater++
}

// RetrieveOne waits up to timeout for the next single item (spec's
// retrieve_one). On timeout, if caching is enabled and a previously
// retrieved item is still held, that cached item is returned again with
// Read == 1 and the read position does not advance further (Open Question
// #1's decision: strict one-item read-ahead, no decrement bookkeeping). A
// nil item with Status.Alive == true and Read == 0 means "no data yet, not
// an error"; Status.Alive == false means the upstream has terminated.
func (in *InputSlot) RetrieveOne(timeout time.Duration) (datatype.Item, Status, error) {
	if in.consumer == nil {
		return nil, Status{}, ErrNotConnected
	}

	want := in.retrievedUpTo + 1
	_, ok, err := in.consumer.WaitAt(want, timeout)
	if err == ringbuffer.ErrAlerted {
		return nil, Status{Alive: false}, nil
	}
	if err != nil {
		return nil, Status{}, err
	}
	if !ok {
		backlog := in.backlog()
		in.reportBacklog(backlog)
		if in.cacheEnabled && in.cacheValid {
			return in.cachedItem, Status{Alive: true, Read: 1, Backlog: backlog}, nil
		}
		return nil, Status{Alive: true, Read: 0, Backlog: backlog}, nil
	}

	item := *in.source.Ring().Get(want)
	in.retrievedUpTo = want
	if in.cacheEnabled {
		in.cachedItem = item
		in.cacheValid = true
	}
	backlog := in.backlog()
	in.reportBacklog(backlog)
	return item, Status{Alive: true, Read: 1, Backlog: backlog}, nil
}

// RetrieveN waits up to timeout for exactly n items (spec's retrieve_n).
// If timeout elapses first, it returns however many are already
// available (possibly zero); the cache never applies when n != 1.
func (in *InputSlot) RetrieveN(n int, timeout time.Duration) ([]datatype.Item, Status, error) {
	if n == 1 {
		item, status, err := in.RetrieveOne(timeout)
		if item == nil {
			return nil, status, err
		}
		return []datatype.Item{item}, status, err
	}
	if in.consumer == nil {
		return nil, Status{}, ErrNotConnected
	}

	want := in.retrievedUpTo + int64(n)
	avail, ok, err := in.consumer.WaitAt(want, timeout)
	if err == ringbuffer.ErrAlerted {
		return nil, Status{Alive: false}, nil
	}
	if err != nil {
		return nil, Status{}, err
	}

	hi := want
	if !ok {
		hi = avail
	}
	items := in.drainTo(hi)
	backlog := in.backlog()
	in.reportBacklog(backlog)
	return items, Status{Alive: true, Read: len(items), Backlog: backlog}, nil
}

// RetrieveAll waits up to timeout for at least one new item, then returns
// every item available from the last retrieve up to the producer's
// current cursor (spec's retrieve_all) — it does not wait for the
// producer to publish further once at least one item is present.
func (in *InputSlot) RetrieveAll(timeout time.Duration) ([]datatype.Item, Status, error) {
	if in.consumer == nil {
		return nil, Status{}, ErrNotConnected
	}

	want := in.retrievedUpTo + 1
	avail, ok, err := in.consumer.WaitAt(want, timeout)
	if err == ringbuffer.ErrAlerted {
		return nil, Status{Alive: false}, nil
	}
	if err != nil {
		return nil, Status{}, err
	}
	if !ok {
		backlog := in.backlog()
		in.reportBacklog(backlog)
		return nil, Status{Alive: true, Read: 0, Backlog: backlog}, nil
	}

	items := in.drainTo(avail)
	backlog := in.backlog()
	in.reportBacklog(backlog)
	return items, Status{Alive: true, Read: len(items), Backlog: backlog}, nil
}

func (in *InputSlot) drainTo(hi int64) []datatype.Item {
	if hi <= in.retrievedUpTo {
		return nil
	}
	items := make([]datatype.Item, 0, hi-in.retrievedUpTo)
	for seq := in.retrievedUpTo + 1; seq <= hi; seq++ {
		items = append(items, *in.source.Ring().Get(seq))
	}
	in.retrievedUpTo = hi
	return items
}

// Release advances the read cursor to every item retrieved since the
// previous Release (spec's critical contract: omitting this deadlocks the
// producer, since the gating sequence only moves here). If the advanced
// sequence would overflow past the termination sentinel, it is clamped.
func (in *InputSlot) Release() {
	if in.consumer == nil {
		return
	}
	seq := in.retrievedUpTo
	if seq > ringbuffer.TerminatedSequenceValue {
		seq = ringbuffer.TerminatedSequenceValue
	}
	in.consumer.Advance(seq)
}
