package kv

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryGetSetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if v, err := m.Get(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("missing key: got %v, %v", v, err)
	}

	if err := m.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatal(err)
	}
	v, err := m.Get(ctx, "a")
	if err != nil || !bytes.Equal(v, []byte("one")) {
		t.Fatalf("get after set: %q, %v", v, err)
	}

	if err := m.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get(ctx, "a"); v != nil {
		t.Fatalf("get after remove: %q", v)
	}
}

func TestMemoryChangeEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var events []Event
	unsub := m.Subscribe(func(ev Event) { events = append(events, ev) })

	m.Set(ctx, "k", []byte("v1"))
	m.Set(ctx, "k", []byte("v2"))
	m.Remove(ctx, "k")
	m.Remove(ctx, "k") // no-op: no event for a missing key

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].OldValue != nil || !bytes.Equal(events[0].NewValue, []byte("v1")) {
		t.Errorf("first event = %+v", events[0])
	}
	if !bytes.Equal(events[1].OldValue, []byte("v1")) || !bytes.Equal(events[1].NewValue, []byte("v2")) {
		t.Errorf("second event = %+v", events[1])
	}
	if !bytes.Equal(events[2].OldValue, []byte("v2")) || events[2].NewValue != nil {
		t.Errorf("remove event = %+v", events[2])
	}

	unsub()
	m.Set(ctx, "k", []byte("v3"))
	if len(events) != 3 {
		t.Error("listener fired after unsubscribe")
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "k", []byte("abc"))

	v, _ := m.Get(ctx, "k")
	v[0] = 'x'

	again, _ := m.Get(ctx, "k")
	if !bytes.Equal(again, []byte("abc")) {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := t.TempDir() + "/kv.db"
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	if err := s.Set(ctx, "snapshot", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get(ctx, "snapshot")
	if err != nil || !bytes.Equal(v, []byte(`{"a":1}`)) {
		t.Fatalf("get: %q, %v", v, err)
	}
	if err := s.Remove(ctx, "snapshot"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get(ctx, "snapshot"); v != nil {
		t.Fatalf("value survived remove: %q", v)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}
