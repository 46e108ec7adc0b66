package state

import "testing"

func TestGet_DeniedBelowReadPermission(t *testing.T) {
	s := New("x", Permissions{Self: Write, Peers: None, External: None}, 0)
	if _, err := s.Get(AudiencePeers); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSet_DeniedBelowWritePermission(t *testing.T) {
	s := New("x", Permissions{Self: Write, Peers: Read, External: None}, 0)
	if err := s.Set(AudiencePeers, 1); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestGetSet_RoundTripWithinPermission(t *testing.T) {
	s := New("x", Permissions{Self: Write, Peers: Read, External: Read}, 0)
	if err := s.Set(AudienceSelf, 99); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(AudiencePeers)
	if err != nil {
		t.Fatal(err)
	}
	if got != 99 {
		t.Fatalf("expected 99, got %d", got)
	}
}

func TestCompatible_RequiresBothSidesAllowPeerAccess(t *testing.T) {
	a := Permissions{Self: Write, Peers: None, External: None}
	b := Permissions{Self: Read, Peers: Read, External: None}
	if Compatible(a, b) {
		t.Fatal("expected incompatible: a.Peers == None")
	}
}

func TestCompatible_RejectsPeerReadAgainstNonReadSelf(t *testing.T) {
	// a grants peers Read, but b's own Self permission is not Read (it is
	// Write), which the rule's X.Peers == Read && Y.Self != Read clause
	// rejects, so they must not link.
	a := Permissions{Self: Read, Peers: Read, External: None}
	b := Permissions{Self: Write, Peers: Read, External: None}
	if Compatible(a, b) {
		t.Fatal("expected incompatible")
	}
}

func TestCompatible_AcceptsBothSidesSelfRead(t *testing.T) {
	a := Permissions{Self: Read, Peers: Read, External: None}
	b := Permissions{Self: Read, Peers: Read, External: Read}
	if !Compatible(a, b) {
		t.Fatal("expected compatible")
	}
	if !Compatible(b, a) {
		t.Fatal("Compatible should be symmetric")
	}
}

func TestLink_FailsOnIncompatiblePermissions(t *testing.T) {
	a := New("a", Permissions{Self: Write, Peers: None, External: None}, 0)
	b := New("b", Permissions{Self: Read, Peers: Read, External: None}, 0)
	if err := a.Link(b); err != ErrIncompatibleLink {
		t.Fatalf("expected ErrIncompatibleLink, got %v", err)
	}
}

func TestLink_SharesWritesAcrossHandles(t *testing.T) {
	// Both sides Self=Read, Peers=Read: one shape the literal
	// compatibility rule accepts (a Write Self still counts as "not Read"
	// for the rule's equality check, spec §5).
	a := New("a", Permissions{Self: Read, Peers: Read, External: Write}, 0)
	b := New("b", Permissions{Self: Read, Peers: Read, External: Read}, 0)
	if err := a.Link(b); err != nil {
		t.Fatal(err)
	}
	if err := a.Set(AudienceExternal, 5); err != nil {
		t.Fatal(err)
	}
	got, err := b.Get(AudienceExternal)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("expected linked handle to observe write, got %d", got)
	}
}

func TestIsMaster_TrueUnlessSelfIsWrite(t *testing.T) {
	writer := New("w", Permissions{Self: Write, Peers: Read, External: None}, 0)
	if writer.IsMaster() {
		t.Fatal("a Self=Write state must not be master-eligible")
	}
	reader := New("r", Permissions{Self: Read, Peers: Read, External: None}, 0)
	if !reader.IsMaster() {
		t.Fatal("a Self!=Write state must be master-eligible")
	}
}

func TestShareCell_RejectsTypeMismatch(t *testing.T) {
	a := New("a", Permissions{Self: Read, Peers: Read, External: None}, 0)
	b := New("b", Permissions{Self: Read, Peers: Read, External: None}, "not an int")

	var masterHandle AnyHandle = a
	var memberHandle AnyHandle = b
	if err := memberHandle.ShareCell(masterHandle.CellPtr()); err == nil {
		t.Fatal("expected type mismatch error sharing an int cell onto a string handle")
	}
}

func TestShareCell_LinksThroughAnyHandle(t *testing.T) {
	master := New("master", Permissions{Self: Write, Peers: Read, External: None}, 1)
	member := New("member", Permissions{Self: Read, Peers: Read, External: None}, 0)

	var masterHandle AnyHandle = master
	var memberHandle AnyHandle = member
	if err := memberHandle.ShareCell(masterHandle.CellPtr()); err != nil {
		t.Fatal(err)
	}

	if err := master.Set(AudienceSelf, 42); err != nil {
		t.Fatal(err)
	}
	got, err := member.Get(AudienceSelf)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("expected shared cell to reflect master's write, got %d", got)
	}
}

func TestGetAnySetAny_RoundTripThroughAnyHandle(t *testing.T) {
	s := New("x", Permissions{Self: Write, Peers: Read, External: None}, 0)
	var h AnyHandle = s

	if err := h.SetAny(AudienceSelf, 7); err != nil {
		t.Fatal(err)
	}
	got, err := h.GetAny(AudiencePeers)
	if err != nil {
		t.Fatal(err)
	}
	if got.(int) != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestSetAny_RejectsWrongType(t *testing.T) {
	s := New("x", Permissions{Self: Write, Peers: Read, External: None}, 0)
	var h AnyHandle = s
	if err := h.SetAny(AudienceSelf, "nope"); err == nil {
		t.Fatal("expected type-mismatch error assigning a string to an int state")
	}
}
