package port

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-arcade/arcade/internal/dataflow/datatype"
	"github.com/go-arcade/arcade/pkg/ringbuffer"
)

// testItem is a minimal datatype.Item used only to exercise port plumbing;
// it carries a single int payload and nothing else.
type testItem struct {
	header datatype.Header
	Value  int
}

func (t *testItem) ClearData()                { t.Value = 0 }
func (t *testItem) Header() datatype.Header    { return t.header }
func (t *testItem) SetHeader(h datatype.Header) { t.header = h }
func (t *testItem) Serialize(datatype.Format) ([]byte, error)     { return nil, nil }
func (t *testItem) Deserialize(datatype.Format, []byte) error     { return nil }
func (t *testItem) Describe() string                              { return "testItem" }

func newConnectedPair(t *testing.T, capacity int64, cacheEnabled bool) (*OutputSlot, *InputSlot) {
	t.Helper()
	out, err := NewOutputSlot(Address{Processor: "p", Port: "out"}, capacity, &ringbuffer.YieldingWaitStrategy{}, func() datatype.Item {
		return &testItem{}
	})
	if err != nil {
		t.Fatal(err)
	}
	in := NewInputSlot(Address{Processor: "q", Port: "in"}, cacheEnabled)
	if err := in.Connect(out); err != nil {
		t.Fatal(err)
	}
	if err := out.Ring().SetGatingSequences(in.GatingSequence()); err != nil {
		t.Fatal(err)
	}
	return out, in
}

func publishOne(t *testing.T, out *OutputSlot, value int) {
	t.Helper()
	item := out.ClaimOne(true).(*testItem)
	item.Value = value
	if err := out.Publish(); err != nil {
		t.Fatal(err)
	}
}

func TestClaimOne_StampsIncreasingSerialNumbers(t *testing.T) {
	out, _ := newConnectedPair(t, 4, false)

	first := out.ClaimOne(true)
	if err := out.Publish(); err != nil {
		t.Fatal(err)
	}
	second := out.ClaimOne(true)
	if err := out.Publish(); err != nil {
		t.Fatal(err)
	}

	if first.Header().SerialNum != 1 || second.Header().SerialNum != 2 {
		t.Fatalf("expected serials 1,2, got %d,%d", first.Header().SerialNum, second.Header().SerialNum)
	}
}

func TestPublish_WithoutClaim_ReturnsErrNoClaim(t *testing.T) {
	out, err := NewOutputSlot(Address{Processor: "p", Port: "out"}, 4, &ringbuffer.YieldingWaitStrategy{}, func() datatype.Item {
		return &testItem{}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Publish(); err != ErrNoClaim {
		t.Fatalf("expected ErrNoClaim, got %v", err)
	}
}

func TestRetrieveOne_NotConnected_ReturnsErrNotConnected(t *testing.T) {
	in := NewInputSlot(Address{Processor: "q", Port: "in"}, false)
	_, _, err := in.RetrieveOne(time.Millisecond)
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRetrieveOne_ReturnsPublishedItemAndAdvancesReadPosition(t *testing.T) {
	out, in := newConnectedPair(t, 4, false)
	publishOne(t, out, 42)

	item, status, err := in.RetrieveOne(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Alive || status.Read != 1 {
		t.Fatalf("expected Alive=true Read=1, got %+v", status)
	}
	if got := item.(*testItem).Value; got != 42 {
		t.Fatalf("expected value 42, got %d", got)
	}
}

func TestRetrieveOne_TimesOutWithNoCache(t *testing.T) {
	_, in := newConnectedPair(t, 4, false)

	item, status, err := in.RetrieveOne(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatalf("expected nil item on timeout, got %v", item)
	}
	if !status.Alive || status.Read != 0 {
		t.Fatalf("expected Alive=true Read=0, got %+v", status)
	}
}

func TestRetrieveOne_CacheReplaysLastItemOnTimeout(t *testing.T) {
	out, in := newConnectedPair(t, 4, true)
	publishOne(t, out, 7)

	first, status, err := in.RetrieveOne(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status.Read != 1 {
		t.Fatalf("expected first retrieve to read 1 item, got %+v", status)
	}
	in.Release()

	// No further publishes: a timed-out retrieve with caching enabled must
	// replay the last item rather than return nil.
	second, status, err := in.RetrieveOne(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status.Read != 1 || !status.Alive {
		t.Fatalf("expected cached replay with Read=1, got %+v", status)
	}
	if second.(*testItem).Value != first.(*testItem).Value {
		t.Fatalf("expected cached item to match last retrieved item")
	}
}

func TestRetrieveOne_WithoutRelease_ProducerStaysBlocked(t *testing.T) {
	out, in := newConnectedPair(t, 2, false)
	publishOne(t, out, 1)
	publishOne(t, out, 2)

	if _, _, err := in.RetrieveOne(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, _, err := in.RetrieveOne(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	// Deliberately no Release() call here: the gating sequence must not
	// have moved, so a third claim on this full, 2-capacity buffer blocks.
	published := make(chan struct{})
	go func() {
		item := out.ClaimOne(true).(*testItem)
		item.Value = 3
		_ = out.Publish()
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("producer should still be blocked: consumer never released")
	case <-time.After(20 * time.Millisecond):
	}

	in.Release()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("producer did not unblock after Release")
	}
}

func TestRetrieveN_PartialOnTimeout(t *testing.T) {
	out, in := newConnectedPair(t, 8, false)
	publishOne(t, out, 1)
	publishOne(t, out, 2)

	items, status, err := in.RetrieveN(5, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || status.Read != 2 {
		t.Fatalf("expected 2 items on partial timeout, got %d (%+v)", len(items), status)
	}
}

func TestRetrieveN_WaitsForFullCount(t *testing.T) {
	out, in := newConnectedPair(t, 8, false)
	for i := 0; i < 3; i++ {
		publishOne(t, out, i)
	}

	items, status, err := in.RetrieveN(3, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || status.Read != 3 {
		t.Fatalf("expected 3 items, got %d (%+v)", len(items), status)
	}
	for i, it := range items {
		if it.(*testItem).Value != i {
			t.Fatalf("item %d: expected value %d, got %d", i, i, it.(*testItem).Value)
		}
	}
}

func TestRetrieveAll_DrainsEverythingAvailable(t *testing.T) {
	out, in := newConnectedPair(t, 8, false)
	for i := 0; i < 5; i++ {
		publishOne(t, out, i)
	}

	items, status, err := in.RetrieveAll(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 || status.Read != 5 {
		t.Fatalf("expected 5 items, got %d (%+v)", len(items), status)
	}
}

func TestTerminate_UnblocksRetrieveWithAliveFalse(t *testing.T) {
	out, in := newConnectedPair(t, 4, false)

	done := make(chan Status, 1)
	go func() {
		_, status, err := in.RetrieveOne(time.Second)
		if err != nil {
			t.Error(err)
		}
		done <- status
	}()

	time.Sleep(10 * time.Millisecond)
	out.Terminate()

	select {
	case status := <-done:
		if status.Alive {
			t.Fatalf("expected Alive=false after Terminate, got %+v", status)
		}
	case <-time.After(time.Second):
		t.Fatal("retrieve did not unblock after Terminate")
	}
}

func TestBacklog_ReflectsUnreleasedItems(t *testing.T) {
	out, in := newConnectedPair(t, 8, false)
	for i := 0; i < 3; i++ {
		publishOne(t, out, i)
	}

	_, status, err := in.RetrieveOne(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	// One item retrieved (but not yet released) out of three published:
	// backlog counts what's published beyond retrievedUpTo, so it should
	// reflect the two still-unretrieved items.
	if status.Backlog != 2 {
		t.Fatalf("expected backlog 2, got %d", status.Backlog)
	}
}

func TestConnect_TwiceOnSameInputReturnsErrAlreadyConnected(t *testing.T) {
	_, in := newConnectedPair(t, 4, false)
	other, err := NewOutputSlot(Address{Processor: "p2", Port: "out"}, 4, &ringbuffer.YieldingWaitStrategy{}, func() datatype.Item {
		return &testItem{}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Connect(other); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func newTestOutputPort(t *testing.T, policy Policy) *OutputPort {
	t.Helper()
	op, err := NewOutputPort(policy, 4, &ringbuffer.YieldingWaitStrategy{}, func() datatype.Item {
		return &testItem{}
	}, func(i int) Address { return Address{Processor: "p", Port: "out", Index: i} })
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func newTestInputPort(t *testing.T, policy Policy) *InputPort {
	t.Helper()
	ip, err := NewInputPort(policy, false, nil, func(i int) Address { return Address{Processor: "q", Port: "in", Index: i} })
	if err != nil {
		t.Fatal(err)
	}
	return ip
}

func TestOutputPort_ReserveSlot_NegativePicksFirstUnconnectedThenFansOut(t *testing.T) {
	op := newTestOutputPort(t, Policy{MinSlots: 2, MaxSlots: 2})

	i0, err := op.ReserveSlot(-1)
	if err != nil || i0 != 0 {
		t.Fatalf("expected slot 0, got %d (%v)", i0, err)
	}
	op.MarkConnected(i0)

	i1, err := op.ReserveSlot(-1)
	if err != nil || i1 != 1 {
		t.Fatalf("expected slot 1, got %d (%v)", i1, err)
	}
	op.MarkConnected(i1)

	// Every slot now has a consumer: a further negative request fans out
	// by rotation rather than failing.
	i2, err := op.ReserveSlot(-1)
	if err != nil {
		t.Fatal(err)
	}
	if i2 != 0 && i2 != 1 {
		t.Fatalf("expected fan-out to an existing slot, got %d", i2)
	}
}

func TestOutputPort_ReserveSlot_ExplicitIndexGrowsWithinMax(t *testing.T) {
	op := newTestOutputPort(t, Policy{MinSlots: 1, MaxSlots: 3})
	if op.NumSlots() != 1 {
		t.Fatalf("expected 1 pre-allocated slot, got %d", op.NumSlots())
	}

	i, err := op.ReserveSlot(1)
	if err != nil || i != 1 {
		t.Fatalf("expected growth to slot 1, got %d (%v)", i, err)
	}
	if op.NumSlots() != 2 {
		t.Fatalf("expected port to have grown to 2 slots, got %d", op.NumSlots())
	}

	if _, err := op.ReserveSlot(5); err == nil {
		t.Fatal("expected an out-of-range reservation beyond MaxSlots to fail")
	}
}

func TestOutputPort_ReserveSlot_ExplicitAlreadyConnectedAllowsFanOut(t *testing.T) {
	op := newTestOutputPort(t, Policy{MinSlots: 1, MaxSlots: 1})
	i, err := op.ReserveSlot(0)
	if err != nil {
		t.Fatal(err)
	}
	op.MarkConnected(i)

	// Requesting the same already-connected slot again is allowed: one
	// output slot may fan out to many inputs.
	i2, err := op.ReserveSlot(0)
	if err != nil || i2 != 0 {
		t.Fatalf("expected slot 0 again, got %d (%v)", i2, err)
	}
}

func TestInputPort_ReserveSlot_NegativeFailsWhenNoFreeSlot(t *testing.T) {
	ip := newTestInputPort(t, Policy{MinSlots: 1, MaxSlots: 1})
	i, err := ip.ReserveSlot(-1)
	if err != nil || i != 0 {
		t.Fatalf("expected slot 0, got %d (%v)", i, err)
	}
	ip.MarkConnected(i)

	if _, err := ip.ReserveSlot(-1); err == nil {
		t.Fatal("expected an error: no free input slot left")
	}
}

func TestInputPort_ReserveSlot_ExplicitAlreadyConnectedForbidden(t *testing.T) {
	ip := newTestInputPort(t, Policy{MinSlots: 1, MaxSlots: 1})
	i, err := ip.ReserveSlot(0)
	if err != nil {
		t.Fatal(err)
	}
	ip.MarkConnected(i)

	if _, err := ip.ReserveSlot(0); err == nil {
		t.Fatal("expected a forbidden-reconnect error")
	}
}

func TestInputPort_ReserveSlot_ExplicitIndexGrowsWithinMax(t *testing.T) {
	ip := newTestInputPort(t, Policy{MinSlots: 1, MaxSlots: 2})
	i, err := ip.ReserveSlot(1)
	if err != nil || i != 1 {
		t.Fatalf("expected growth to slot 1, got %d (%v)", i, err)
	}
	if ip.NumSlots() != 2 {
		t.Fatalf("expected port to have grown to 2 slots, got %d", ip.NumSlots())
	}
}

func TestWaitStrategyFor_ResolvesEachNamedKind(t *testing.T) {
	cases := []struct {
		kind string
		want any
	}{
		{"", &ringbuffer.BlockingWaitStrategy{}},
		{"blocking", &ringbuffer.BlockingWaitStrategy{}},
		{"sleeping", &ringbuffer.SleepWaitStrategy{}},
		{"yielding", &ringbuffer.YieldingWaitStrategy{}},
		{"busy-spin", &ringbuffer.BusySpinWaitStrategy{}},
	}
	for _, c := range cases {
		got, err := WaitStrategyFor(c.kind)
		if err != nil {
			t.Fatalf("%q: %v", c.kind, err)
		}
		gotType := fmt.Sprintf("%T", got)
		wantType := fmt.Sprintf("%T", c.want)
		if gotType != wantType {
			t.Fatalf("%q: expected %s, got %s", c.kind, wantType, gotType)
		}
	}
}

func TestWaitStrategyFor_UnknownKindFails(t *testing.T) {
	if _, err := WaitStrategyFor("quantum"); err == nil {
		t.Fatal("expected an error for an unrecognized wait_strategy name")
	}
}

func TestTimeoutFromMicros_NegativeMapsToInfiniteWait(t *testing.T) {
	if got := TimeoutFromMicros(-1); got != ringbuffer.InfiniteWait {
		t.Fatalf("expected InfiniteWait, got %v", got)
	}
	if got := TimeoutFromMicros(1000); got != time.Millisecond {
		t.Fatalf("expected 1ms, got %v", got)
	}
}
