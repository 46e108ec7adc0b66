// Package ringbuffer implements a Disruptor-style lock-free ring buffer:
// a single producer claims and publishes sequence numbers with atomic
// operations, any number of consumers track their own read position with a
// SequenceBarrier, and gating sequences fed back from consumers to the
// producer prevent overwriting data that hasn't been read yet.
//
// Reference: https://lmax-exchange.github.io/disruptor/
package ringbuffer

import (
	"errors"
)

// ErrInvalidCapacity is returned by NewRingBuffer when capacity is not a
// strictly positive power of two (required for fast index masking).
var ErrInvalidCapacity = errors.New("ringbuffer: capacity must be a power of 2 greater than 0")

// ErrSealed is returned by SetGatingSequences when called after the ring
// buffer has already started publishing; gating is wired once, at build
// time, and is immutable for the lifetime of a run.
var ErrSealed = errors.New("ringbuffer: gating sequences are sealed once publishing has started")

// RingBuffer is a fixed-capacity, pre-allocated circular buffer of T,
// written by a single producer and read by any number of independent
// consumers (each consumer sees every published item, in order).
type RingBuffer[T any] struct {
	buf      []T
	mask     int64
	capacity int64

	cursor  *Sequence // highest published sequence; visible to consumers
	claimed *Sequence // highest sequence claimed but not yet published

	gating []*Sequence // consumer sequences the producer must not overrun
	sealed bool

	wait WaitStrategy
}

// NewRingBuffer allocates a ring buffer of the given capacity (must be a
// power of two) using wait as the strategy consumers and the producer park
// with. A nil wait defaults to YieldingWaitStrategy. Cells start at T's
// zero value; use NewRingBufferWithFactory when T needs constructing.
func NewRingBuffer[T any](capacity int64, wait WaitStrategy) (*RingBuffer[T], error) {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		return nil, ErrInvalidCapacity
	}
	if wait == nil {
		wait = &YieldingWaitStrategy{}
	}
	return &RingBuffer[T]{
		buf:      make([]T, capacity),
		mask:     capacity - 1,
		capacity: capacity,
		cursor:   NewSequence(InitialSequenceValue),
		claimed:  NewSequence(InitialSequenceValue),
		wait:     wait,
	}, nil
}

// NewRingBufferWithFactory allocates a ring buffer and pre-populates every
// cell by calling factory once per slot, so a claim-and-reuse producer
// (port.OutputSlot) never allocates a new T after startup — it reuses the
// same factory-built instance every lap and only ClearData()s it.
func NewRingBufferWithFactory[T any](capacity int64, wait WaitStrategy, factory func() T) (*RingBuffer[T], error) {
	r, err := NewRingBuffer[T](capacity, wait)
	if err != nil {
		return nil, err
	}
	for i := range r.buf {
		r.buf[i] = factory()
	}
	return r, nil
}

// Capacity returns the number of slots in the buffer.
func (r *RingBuffer[T]) Capacity() int64 { return r.capacity }

// Cursor returns the producer's published-sequence counter. Consumers use
// it as the upstream bound of their SequenceBarrier.
func (r *RingBuffer[T]) Cursor() *Sequence { return r.cursor }

// SetGatingSequences wires the sequences the producer must stay behind —
// normally the read sequences of every direct consumer of this buffer (or,
// for a chain, whichever consumer reads slowest). It may only be called
// before the first Publish/PublishWith of a run; calling it afterward
// returns ErrSealed per the spec's gating-immutability decision.
func (r *RingBuffer[T]) SetGatingSequences(seqs ...*Sequence) error {
	if r.sealed {
		return ErrSealed
	}
	r.gating = append([]*Sequence(nil), seqs...)
	return nil
}

// NewBarrier returns a SequenceBarrier a consumer of this buffer waits on.
// dependents, if given, are upstream consumer sequences this barrier must
// also stay behind (used to fan a multi-stage pipeline's downstream stage
// in behind an upstream stage reading the same buffer).
func (r *RingBuffer[T]) NewBarrier(dependents ...*Sequence) *SequenceBarrier {
	return &SequenceBarrier{
		cursor:     r.cursor,
		dependents: dependents,
		wait:       r.wait,
		alert:      r.isTerminated,
	}
}

func (r *RingBuffer[T]) isTerminated() bool {
	return r.cursor.Get() == TerminatedSequenceValue
}

// seal marks gating sequences immutable; called by Publish, PublishWith,
// TryPublish and Claim, so the first item a producer writes seals the ring.
func (r *RingBuffer[T]) seal() { r.sealed = true }

// Seal is the exported form of seal, for sealing a ring before its first
// publish.
func (r *RingBuffer[T]) Seal() { r.seal() }

// Get returns the item at seq without any synchronization. Callers must
// only read a sequence they know has been published (via a barrier wait).
func (r *RingBuffer[T]) Get(seq int64) *T {
	return &r.buf[seq&r.mask]
}

// waitForFreeSlot blocks the producer until publishing nextSeq would not
// overrun the slowest gating consumer by more than a full lap.
func (r *RingBuffer[T]) waitForFreeSlot(nextSeq int64) {
	wrapPoint := nextSeq - r.capacity
	for {
		min := minSequence(r.gating, r.cursor.Get())
		if wrapPoint <= min {
			return
		}
		r.wait.WaitFor(min+1, func() int64 { return minSequence(r.gating, r.cursor.Get()) }, r.isTerminated)
	}
}

// Publish claims the next sequence, blocks for gating if needed, copies v
// into the slot, then makes it visible to consumers.
func (r *RingBuffer[T]) Publish(v T) int64 {
	r.seal()
	nextSeq := r.cursor.Get() + 1
	r.waitForFreeSlot(nextSeq)
	r.buf[nextSeq&r.mask] = v
	r.cursor.Set(nextSeq)
	r.wait.SignalAll()
	return nextSeq
}

// PublishWith claims the next sequence and lets the caller write directly
// into the slot via write, avoiding an extra copy for large payloads.
func (r *RingBuffer[T]) PublishWith(write func(slot *T)) int64 {
	r.seal()
	nextSeq := r.cursor.Get() + 1
	r.waitForFreeSlot(nextSeq)
	write(&r.buf[nextSeq&r.mask])
	r.cursor.Set(nextSeq)
	r.wait.SignalAll()
	return nextSeq
}

// TryPublish attempts to publish without blocking for gating; returns
// (0, false) if doing so would overrun the slowest gating consumer.
func (r *RingBuffer[T]) TryPublish(v T) (int64, bool) {
	r.seal()
	nextSeq := r.cursor.Get() + 1
	wrapPoint := nextSeq - r.capacity
	if wrapPoint > minSequence(r.gating, r.cursor.Get()) {
		return 0, false
	}
	r.buf[nextSeq&r.mask] = v
	r.cursor.Set(nextSeq)
	r.wait.SignalAll()
	return nextSeq, true
}

// Terminate sets the cursor to the sentinel TerminatedSequenceValue, which
// unblocks every consumer and producer currently parked in a WaitFor: each
// observes the barrier as satisfied, checks alert(), and returns ErrAlerted.
func (r *RingBuffer[T]) Terminate() {
	r.cursor.Set(TerminatedSequenceValue)
	r.wait.SignalAll()
}

// Batch is a contiguous run of sequences reserved together by Claim and
// later made visible together by PublishBatch (spec §4.2's claim/publish
// split, as distinct from the single-call Publish above).
type Batch struct {
	Start, End int64
}

// Claim reserves n contiguous sequences beyond whatever this producer has
// already claimed, blocking for gating the same way Publish does, but does
// NOT make them visible to consumers — the item at every sequence in the
// batch is mutable to the producer via Get until PublishBatch is called.
func (r *RingBuffer[T]) Claim(n int64) Batch {
	r.seal()
	start := r.claimed.Get() + 1
	end := start + n - 1
	r.waitForFreeSlot(end)
	r.claimed.Set(end)
	return Batch{Start: start, End: end}
}

// PublishBatch makes every sequence in batch visible to consumers at once.
func (r *RingBuffer[T]) PublishBatch(batch Batch) {
	r.cursor.Set(batch.End)
	r.wait.SignalAll()
}

// ForcePublish unconditionally sets the cursor to seq, bypassing gating —
// used by shutdown to push TerminatedSequenceValue so every blocked
// consumer observes the barrier as available and exits via alert.
func (r *RingBuffer[T]) ForcePublish(seq int64) {
	r.cursor.Set(seq)
	r.wait.SignalAll()
}

// SequenceBarrier is what a consumer waits on: the producer's cursor,
// optionally narrowed by upstream dependent sequences in a multi-stage
// pipeline sharing one buffer.
type SequenceBarrier struct {
	cursor     *Sequence
	dependents []*Sequence
	wait       WaitStrategy
	alert      func() bool
}

// Available returns the highest sequence currently safe to read: the
// producer's cursor, capped by the slowest dependent consumer if any.
func (b *SequenceBarrier) Available() int64 {
	return minSequence(b.dependents, b.cursor.Get())
}

// WaitFor blocks until sequence want is available or the buffer is
// terminated, in which case it returns ErrAlerted.
func (b *SequenceBarrier) WaitFor(want int64) (int64, error) {
	return b.wait.WaitFor(want, b.Available, b.alert)
}

// IsAlerted reports whether the owning buffer has been terminated.
func (b *SequenceBarrier) IsAlerted() bool { return b.alert() }
