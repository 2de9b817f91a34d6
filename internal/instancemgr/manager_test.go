package instancemgr

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/eventmap"
)

func TestSubmitActionQueueFull(t *testing.T) {
	m := New("t1", 2, zerolog.Nop())
	m.ProcessingDelay = time.Hour // never drains during this test

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	a := InstanceAction{Type: Add, Profile: &eventmap.InstanceProfile{FilePath: "/a"}}
	b := InstanceAction{Type: Add, Profile: &eventmap.InstanceProfile{FilePath: "/b"}}
	c := InstanceAction{Type: Add, Profile: &eventmap.InstanceProfile{FilePath: "/c"}}

	// First two submits land in the queue; the drain loop immediately pulls
	// one into processing (blocked on ProcessingDelay), freeing a queue
	// slot, so the third submit can still succeed. A fourth must fail.
	if !m.SubmitAction(a) {
		t.Fatal("expected first submit to succeed")
	}
	if !m.SubmitAction(b) {
		t.Fatal("expected second submit to succeed")
	}
	time.Sleep(50 * time.Millisecond) // let the drain loop pull one item
	if !m.SubmitAction(c) {
		t.Fatal("expected third submit to succeed after drain loop freed a slot")
	}
	d := InstanceAction{Type: Add, Profile: &eventmap.InstanceProfile{FilePath: "/d"}}
	if m.SubmitAction(d) {
		t.Fatal("expected submit to fail once queue + in-flight slot are exhausted")
	}
}

func TestShouldAddAgain(t *testing.T) {
	m := New("t1", 10, zerolog.Nop())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !m.ShouldAddAgain("/a", t0) {
		t.Error("expected true for a never-seen path")
	}
	if m.ShouldAddAgain("/a", t0) {
		t.Error("expected false for the same mtime seen again")
	}
	if !m.ShouldAddAgain("/a", t0.Add(time.Second)) {
		t.Error("expected true once mtime advances")
	}
}

func TestAllInstanceFinished(t *testing.T) {
	m := New("t1", 10, zerolog.Nop())
	m.ProcessingDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if !m.AllInstanceFinished() {
		t.Error("expected AllInstanceFinished on an empty manager")
	}

	m.SubmitAction(InstanceAction{Type: Add, Profile: &eventmap.InstanceProfile{FilePath: "/a"}})

	deadline := time.Now().Add(time.Second)
	for !m.AllInstanceFinished() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for AllInstanceFinished after submit")
		}
		time.Sleep(time.Millisecond)
	}
}
