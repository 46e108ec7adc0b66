package ringbuffer

import "time"

// InfiniteWait is the sentinel timeout meaning "never time out" (spec
// §3's input-slot time_out_us == -1). WaitAt treats exactly this value
// as a request to block until the barrier clears or is alerted, rather
// than computing a deadline from it.
const InfiniteWait time.Duration = -1

// Consumer tracks one reader's progress through a RingBuffer. Each Consumer
// sees every item published to the buffer it was created from, in order;
// independent Consumers advance independently (fan-out).
type Consumer struct {
	sequence *Sequence
	barrier  *SequenceBarrier
}

// NewConsumer attaches a Consumer to barrier, starting before the first
// item (InitialSequenceValue).
func NewConsumer(barrier *SequenceBarrier) *Consumer {
	return &Consumer{
		sequence: NewSequence(InitialSequenceValue),
		barrier:  barrier,
	}
}

// Sequence returns the consumer's own read-position Sequence, to be handed
// to RingBuffer.SetGatingSequences so the producer stays behind it.
func (c *Consumer) Sequence() *Sequence { return c.sequence }

// Next blocks until at least one new item is available, then returns the
// highest available sequence (which may be more than one ahead of the last
// Advance — callers should drain sequence()+1..avail before advancing).
func (c *Consumer) Next() (int64, error) {
	want := c.sequence.Get() + 1
	return c.barrier.WaitFor(want)
}

// Advance marks seq as consumed, releasing it for gating producers.
func (c *Consumer) Advance(seq int64) { c.sequence.Set(seq) }

// TryNext reports whether an item is already available without blocking.
func (c *Consumer) TryNext() (int64, bool) {
	return c.TryAt(c.sequence.Get() + 1)
}

// NextTimeout polls for availability until timeout elapses, returning
// (0, false, nil) on a plain timeout, (seq, true, nil) on success, and
// (0, false, ErrAlerted) if the buffer was terminated while waiting.
func (c *Consumer) NextTimeout(timeout time.Duration) (int64, bool, error) {
	avail, ok, err := c.WaitAt(c.sequence.Get()+1, timeout)
	if err != nil || !ok {
		return 0, ok, err
	}
	return avail, true, nil
}

// TryAt reports whether sequence want is already available without
// blocking, independent of this consumer's own release position — used by
// port.InputSlot to track retrieved-but-not-yet-released items separately
// from the gating sequence Release advances.
func (c *Consumer) TryAt(want int64) (int64, bool) {
	if avail := c.barrier.Available(); avail >= want {
		return avail, true
	}
	return 0, false
}

// WaitAt blocks until sequence want is available, timeout elapses, or
// (when timeout == InfiniteWait) forever. On a plain timeout it returns
// the current (insufficient) available sequence with ok=false, matching
// spec §4.1's wait_for(target, timeout_us) contract; on termination it
// returns ErrAlerted.
func (c *Consumer) WaitAt(want int64, timeout time.Duration) (avail int64, ok bool, err error) {
	if seq, hit := c.TryAt(want); hit && !c.barrier.IsAlerted() {
		return seq, true, nil
	}
	if c.barrier.IsAlerted() {
		return 0, false, ErrAlerted
	}

	infinite := timeout == InfiniteWait
	deadline := time.Now().Add(timeout)
	const pollInterval = 200 * time.Microsecond
	for {
		cur := c.barrier.Available()
		if c.barrier.IsAlerted() {
			return 0, false, ErrAlerted
		}
		if cur >= want {
			return cur, true, nil
		}
		if !infinite {
			if !time.Now().Before(deadline) {
				return cur, false, nil
			}
			if remaining := time.Until(deadline); remaining < pollInterval {
				time.Sleep(remaining)
				continue
			}
		}
		time.Sleep(pollInterval)
	}
}
