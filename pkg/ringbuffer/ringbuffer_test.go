package ringbuffer

import (
	"sync"
	"testing"
	"time"
)

func TestNewRingBuffer_RejectsNonPowerOfTwo(t *testing.T) {
	if _, err := NewRingBuffer[int](3, nil); err != ErrInvalidCapacity {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := NewRingBuffer[int](0, nil); err != ErrInvalidCapacity {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestPublishConsume_SingleConsumer_SequenceContiguity(t *testing.T) {
	rb, err := NewRingBuffer[int](16, &YieldingWaitStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	consumer := NewConsumer(rb.NewBarrier())
	if err := rb.SetGatingSequences(consumer.Sequence()); err != nil {
		t.Fatal(err)
	}

	const n = 1000
	go func() {
		for i := 0; i < n; i++ {
			rb.Publish(i)
		}
	}()

	next := int64(0)
	for next < n {
		avail, err := consumer.Next()
		if err != nil {
			t.Fatal(err)
		}
		for seq := next; seq <= avail; seq++ {
			got := *rb.Get(seq)
			if got != int(seq) {
				t.Fatalf("sequence %d: expected value %d, got %d", seq, seq, got)
			}
		}
		consumer.Advance(avail)
		next = avail + 1
	}
}

func TestFanOut_IndependentConsumerProgress(t *testing.T) {
	rb, err := NewRingBuffer[int](8, &YieldingWaitStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	fast := NewConsumer(rb.NewBarrier())
	slow := NewConsumer(rb.NewBarrier())
	if err := rb.SetGatingSequences(fast.Sequence(), slow.Sequence()); err != nil {
		t.Fatal(err)
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)

	drain := func(c *Consumer) {
		defer wg.Done()
		next := int64(0)
		for next < n {
			avail, err := c.Next()
			if err != nil {
				return
			}
			c.Advance(avail)
			next = avail + 1
			if c == slow {
				time.Sleep(time.Microsecond)
			}
		}
	}
	go drain(fast)
	go drain(slow)

	for i := 0; i < n; i++ {
		rb.Publish(i)
	}
	wg.Wait()

	if fast.Sequence().Get() != n-1 {
		t.Fatalf("fast consumer expected to reach %d, got %d", n-1, fast.Sequence().Get())
	}
	if slow.Sequence().Get() != n-1 {
		t.Fatalf("slow consumer expected to reach %d, got %d", n-1, slow.Sequence().Get())
	}
}

func TestSetGatingSequences_SealedAfterFirstPublish(t *testing.T) {
	rb, err := NewRingBuffer[int](4, &YieldingWaitStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	rb.Publish(1)
	if err := rb.SetGatingSequences(NewSequence(InitialSequenceValue)); err != ErrSealed {
		t.Fatalf("expected ErrSealed after first publish, got %v", err)
	}
}

func TestGatingBound_ProducerBlocksBehindSlowestConsumer(t *testing.T) {
	rb, err := NewRingBuffer[int](2, &YieldingWaitStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	consumer := NewConsumer(rb.NewBarrier())
	if err := rb.SetGatingSequences(consumer.Sequence()); err != nil {
		t.Fatal(err)
	}

	rb.Publish(1)
	rb.Publish(2)

	published := make(chan struct{})
	go func() {
		rb.Publish(3)
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("producer should have blocked with a full, unread buffer")
	case <-time.After(20 * time.Millisecond):
	}

	avail, err := consumer.Next()
	if err != nil {
		t.Fatal(err)
	}
	consumer.Advance(avail)

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("producer did not unblock after gating consumer advanced")
	}
}

func TestTerminate_UnblocksWaitingConsumer(t *testing.T) {
	rb, err := NewRingBuffer[int](4, NewBlockingWaitStrategy())
	if err != nil {
		t.Fatal(err)
	}
	consumer := NewConsumer(rb.NewBarrier())

	done := make(chan error, 1)
	go func() {
		_, err := consumer.Next()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Terminate()

	select {
	case err := <-done:
		if err != ErrAlerted {
			t.Fatalf("expected ErrAlerted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not unblock within a bounded time after Terminate")
	}
}

func TestTryPublish_FailsWhenFull(t *testing.T) {
	rb, err := NewRingBuffer[int](2, &YieldingWaitStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	consumer := NewConsumer(rb.NewBarrier())
	if err := rb.SetGatingSequences(consumer.Sequence()); err != nil {
		t.Fatal(err)
	}

	if _, ok := rb.TryPublish(1); !ok {
		t.Fatal("expected first TryPublish to succeed")
	}
	if _, ok := rb.TryPublish(2); !ok {
		t.Fatal("expected second TryPublish to succeed")
	}
	if _, ok := rb.TryPublish(3); ok {
		t.Fatal("expected third TryPublish to fail on a full, unread buffer of capacity 2")
	}
}
