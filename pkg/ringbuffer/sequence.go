package ringbuffer

import "sync/atomic"

// InitialSequenceValue is the value a Sequence holds before anything has
// been claimed, published, or consumed through it.
const InitialSequenceValue int64 = -1

// TerminatedSequenceValue is the sentinel a RingBuffer's cursor is set to on
// Terminate. It is larger than any sequence a real run can reach, so every
// waiter parked on it observes the barrier as "available" and unblocks to
// discover termination instead of hanging forever.
const TerminatedSequenceValue int64 = 1<<63 - 1

// Sequence is a padded, atomically updated cursor used to track progress
// through a RingBuffer: the producer's publish cursor, a consumer's read
// position, or a gating sequence fed back from a downstream consumer to the
// producer it reads from. The padding on either side of value keeps it on
// its own cache line so independent sequences don't false-share.
type Sequence struct {
	_     [7]int64
	value int64
	_     [7]int64
}

// NewSequence returns a Sequence initialized to initial.
func NewSequence(initial int64) *Sequence {
	return &Sequence{value: initial}
}

// Get returns the current value with acquire semantics.
func (s *Sequence) Get() int64 {
	return atomic.LoadInt64(&s.value)
}

// Set stores v with release semantics.
func (s *Sequence) Set(v int64) {
	atomic.StoreInt64(&s.value, v)
}

// IncrementAndGet atomically adds 1 and returns the new value.
func (s *Sequence) IncrementAndGet() int64 {
	return atomic.AddInt64(&s.value, 1)
}

// CompareAndSet attempts to swap expect for update, returning whether it won.
func (s *Sequence) CompareAndSet(expect, update int64) bool {
	return atomic.CompareAndSwapInt64(&s.value, expect, update)
}

// minSequence returns the smallest value among seqs, or fallback if seqs is
// empty. Used to compute the slowest gating consumer behind a producer, or
// the slowest dependent a fan-in barrier must wait behind.
func minSequence(seqs []*Sequence, fallback int64) int64 {
	if len(seqs) == 0 {
		return fallback
	}
	min := seqs[0].Get()
	for _, s := range seqs[1:] {
		if v := s.Get(); v < min {
			min = v
		}
	}
	return min
}
