package config

import "testing"

func TestExpandNamePattern_Range(t *testing.T) {
	names, err := expandNamePattern("filter(1-3,7)")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"filter1", "filter2", "filter3", "filter7"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestExpandNamePattern_NoPatternReturnsUnchanged(t *testing.T) {
	names, err := expandNamePattern("sink")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "sink" {
		t.Fatalf("expected [sink], got %v", names)
	}
}

func TestExpandConnection_OneToOneSingleSlots(t *testing.T) {
	conns, err := expandConnection("src.out[0]", "sink.in[0]")
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	c := conns[0]
	if c.FromProcessor != "src" || c.FromPort != "out" || c.FromSlot != 0 {
		t.Fatalf("unexpected from side: %+v", c)
	}
	if c.ToProcessor != "sink" || c.ToPort != "in" || c.ToSlot != 0 {
		t.Fatalf("unexpected to side: %+v", c)
	}
}

func TestExpandConnection_FanOutFromSingleSlot(t *testing.T) {
	conns, err := expandConnection("src.out[0]", "sink.in[0-2]")
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}
	for i, c := range conns {
		if c.FromSlot != 0 {
			t.Fatalf("expected fan-out from slot 0, got %d", c.FromSlot)
		}
		if c.ToSlot != i {
			t.Fatalf("expected to-slot %d, got %d", i, c.ToSlot)
		}
	}
}

func TestExpandConnection_OmittedSlotsDefaultToAutoReserve(t *testing.T) {
	conns, err := expandConnection("src.out", "sink.in")
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	if conns[0].FromSlot != autoSlot || conns[0].ToSlot != autoSlot {
		t.Fatalf("expected both sides to default to autoSlot, got %+v", conns[0])
	}
}

func TestExpandConnection_MismatchedSlotCountsFail(t *testing.T) {
	if _, err := expandConnection("src.out[0-1]", "sink.in[0-2]"); err == nil {
		t.Fatal("expected a slot-count mismatch error")
	}
}

func TestParseStateRef_RequiresDottedForm(t *testing.T) {
	if _, err := parseStateRef("noDot"); err == nil {
		t.Fatal("expected malformed state reference error")
	}
	ref, err := parseStateRef("sinkA.count")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Processor != "sinkA" || ref.State != "count" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestParseGraphDocument_AdvancedBlock(t *testing.T) {
	doc := []byte(`
processors:
  - name: plain
    type: examplemod.source
  - name: tuned
    type: examplemod.source
    advanced:
      threadpriority: 80
      threadcore: 2
      buffer_sizes:
        out: 4096
`)
	g, err := ParseGraphDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]ProcessorSpec{}
	for _, p := range g.Processors {
		byName[p.Name] = p
	}

	plain := byName["plain"].Advanced
	if plain.ThreadPriority != -1 || plain.ThreadCore != -1 {
		t.Fatalf("expected inherited defaults, got %+v", plain)
	}

	tuned := byName["tuned"].Advanced
	if tuned.ThreadPriority != 80 {
		t.Fatalf("expected threadpriority 80, got %d", tuned.ThreadPriority)
	}
	if tuned.ThreadCore != 2 {
		t.Fatalf("expected threadcore 2, got %d", tuned.ThreadCore)
	}
	if tuned.BufferSizes["out"] != 4096 {
		t.Fatalf("expected out buffer_sizes override 4096, got %+v", tuned.BufferSizes)
	}
}

func TestParseGraphDocument_EndToEnd(t *testing.T) {
	doc := []byte(`
processors:
  - name: source
    type: examplemod.source
    params:
      rate_hz: 100
  - name: sink
    type: examplemod.sink

connections:
  - from: source.out[0]
    to: sink.in[0]

states:
  - name: counts
    members:
      - sink.count
`)
	g, err := ParseGraphDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Processors) != 2 {
		t.Fatalf("expected 2 processors, got %d", len(g.Processors))
	}
	if len(g.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(g.Connections))
	}
	if len(g.States) != 1 || len(g.States[0].Members) != 1 {
		t.Fatalf("expected 1 state group with 1 member, got %+v", g.States)
	}
}
