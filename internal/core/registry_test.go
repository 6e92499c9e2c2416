package core

import "testing"

func TestRegistryExistsIffNonEmpty(t *testing.T) {
	r := NewRegistry()

	if r.Has("abcd") {
		t.Fatal("room should not exist before any join")
	}

	r.Join("abcd", "c1")
	if !r.Has("abcd") {
		t.Fatal("room should exist after join")
	}

	r.Join("abcd", "c2")
	r.Leave("c1", "abcd")
	if !r.Has("abcd") {
		t.Fatal("room should survive while a member remains")
	}

	r.Leave("c2", "abcd")
	if r.Has("abcd") {
		t.Fatal("room should be deleted once empty")
	}
	if got := r.MembersOf("abcd"); len(got) != 0 {
		t.Fatalf("expected empty member list, got %v", got)
	}
}

func TestRegistryNoDuplicateMembers(t *testing.T) {
	r := NewRegistry()

	r.Join("abcd", "c1")
	r.Join("abcd", "c1")

	if got := r.MembersOf("abcd"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("expected single member c1, got %v", got)
	}
}

func TestRegistryLeaveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()

	// Neither the room nor the connection exists; must not panic or err.
	r.Leave("ghost", "nowhere")

	r.Join("abcd", "c1")
	r.Leave("ghost", "abcd")
	if got := r.MembersOf("abcd"); len(got) != 1 {
		t.Fatalf("unrelated leave must not mutate membership, got %v", got)
	}
}

func TestRegistryMultiRoomMembership(t *testing.T) {
	r := NewRegistry()

	// A connection may join several rooms without leaving prior ones.
	r.Join("r1", "c1")
	r.Join("r2", "c1")

	if !r.Has("r1") || !r.Has("r2") {
		t.Fatal("both rooms should exist")
	}
	if rooms := r.Rooms(); len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r2" {
		t.Fatalf("unexpected room keys: %v", rooms)
	}
}
