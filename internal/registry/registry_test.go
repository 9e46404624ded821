package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/gobaduk/pachimaster/internal/wire"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	r := New()
	c1 := r.Append("play", "B Q16")
	c2 := r.Append("play", "W D4")
	if c1.ID != 1 || c2.ID != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", c1.ID, c2.ID)
	}
	if r.Head() != 2 {
		t.Fatalf("head = %d, want 2", r.Head())
	}
}

func TestReplaceLastPreservesID(t *testing.T) {
	r := New()
	first := r.Append("pachi-genmoves", "B 0 5.0 0 0 0")
	updated, err := r.ReplaceLast("pachi-genmoves", "B 0 5.0 0 0 0\nQ16 10 0.5 0 0")
	if err != nil {
		t.Fatalf("ReplaceLast: %v", err)
	}
	if updated.ID != first.ID {
		t.Fatalf("id changed: %d -> %d", first.ID, updated.ID)
	}
	got, ok := r.Get(first.ID)
	if !ok || got.Args != updated.Args {
		t.Fatalf("Get(%d) = %+v, ok=%v", first.ID, got, ok)
	}
}

func TestReplaceLastOnEmptyLog(t *testing.T) {
	r := New()
	if _, err := r.ReplaceLast("play", "B Q16"); err == nil {
		t.Fatalf("expected error replacing last on empty log")
	}
}

func TestSupersedeLastWithNewIDAppendsNewEntry(t *testing.T) {
	r := New()
	r.Append("pachi-genmoves", "B 0 5.0 0 0 0")
	played := r.SupersedeLastWithNewID("play", "B Q16")
	if played.ID != 2 {
		t.Fatalf("id = %d, want 2", played.ID)
	}
	if r.Head() != 2 {
		t.Fatalf("head = %d, want 2", r.Head())
	}
}

func TestSlice(t *testing.T) {
	r := New()
	r.Append("play", "B Q16")
	r.Append("play", "W D4")
	r.Append("play", "B D16")

	got := r.Slice(2)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("Slice(2) = %+v", got)
	}

	if got := r.Slice(10); got != nil {
		t.Fatalf("Slice past head = %+v, want nil", got)
	}
}

func TestGetOutOfRange(t *testing.T) {
	r := New()
	r.Append("play", "B Q16")
	if _, ok := r.Get(0); ok {
		t.Fatalf("Get(0) should fail")
	}
	if _, ok := r.Get(2); ok {
		t.Fatalf("Get(2) should fail on single-entry log")
	}
}

func TestOnMutateFiresForAppendAndReplaceLast(t *testing.T) {
	r := New()
	var mu sync.Mutex
	var seen []wire.Command
	r.SetOnMutate(func(cmd wire.Command) {
		mu.Lock()
		seen = append(seen, cmd)
		mu.Unlock()
	})

	r.Append("pachi-genmoves", "B 0 5.0 0 0 0")
	r.ReplaceLast("pachi-genmoves", "B 0 5.0 0 0 0\nQ16 10 0.5 0 0")
	r.SupersedeLastWithNewID("play", "B Q16")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("onMutate fired %d times, want 3: %+v", len(seen), seen)
	}
	if seen[0].ID != 1 || seen[0].Args != "B 0 5.0 0 0 0" {
		t.Fatalf("first notification = %+v", seen[0])
	}
	if seen[1].ID != 1 || seen[1].Args != "B 0 5.0 0 0 0\nQ16 10 0.5 0 0" {
		t.Fatalf("replace-last notification = %+v", seen[1])
	}
	if seen[2].ID != 2 || seen[2].Verb != "play" {
		t.Fatalf("supersede notification = %+v", seen[2])
	}
}

func TestWaitForCommandAfterWakesOnAppend(t *testing.T) {
	r := New()
	r.Append("play", "B Q16")

	var wg sync.WaitGroup
	wg.Add(1)
	var got int64
	go func() {
		defer wg.Done()
		cmd := r.WaitForCommandAfter(1)
		got = cmd.ID
	}()

	time.Sleep(10 * time.Millisecond)
	r.Append("play", "W D4")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForCommandAfter did not wake up")
	}
	if got != 2 {
		t.Fatalf("woke with id %d, want 2", got)
	}
}
