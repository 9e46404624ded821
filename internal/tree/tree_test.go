package tree

import (
	"errors"
	"testing"
)

func TestMergeAddsNewChildren(t *testing.T) {
	root := NewRoot()
	remote := []RemoteStat{
		{Coord: "A1", Playouts: 60, Value: 0.6, AMAFPlayouts: 50, AMAFValue: 0.55},
		{Coord: "B2", Playouts: 40, Value: 0.4, AMAFPlayouts: 30, AMAFValue: 0.45},
	}
	if err := root.Merge(remote); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(root.Children) != 2 {
		t.Fatalf("want 2 children, got %d", len(root.Children))
	}
	a1 := root.ChildByCoord("A1")
	if a1 == nil || a1.Playouts != 60 || a1.PriorPlayouts != 60 {
		t.Fatalf("A1 = %+v", a1)
	}
}

func TestMergeAppliesDeltaOnce(t *testing.T) {
	root := NewRoot()
	root.Children = []*Node{{Coord: "A1", Playouts: 10, Value: 0.5, Parent: root}}

	remote := []RemoteStat{
		{Coord: "A1", Playouts: 30, Value: 0.7, PriorPlayouts: 0, PriorValue: 0},
	}
	if err := root.Merge(remote); err != nil {
		t.Fatalf("merge: %v", err)
	}
	a1 := root.ChildByCoord("A1")
	// old=10 direct playouts at 0.5, delta = 30-0=30 at 0.7
	wantPlayouts := 40
	if a1.Playouts != wantPlayouts {
		t.Fatalf("playouts = %d, want %d", a1.Playouts, wantPlayouts)
	}
	wantValue := (0.5*10 + 0.7*30) / 40
	if diff := a1.Value - wantValue; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("value = %v, want %v", a1.Value, wantValue)
	}
	if a1.PriorPlayouts != a1.Playouts {
		t.Fatalf("prior snapshot not updated: %+v", a1)
	}
}

func TestMergeIdempotentOnRepeatedSnapshot(t *testing.T) {
	root := NewRoot()
	root.Children = []*Node{{Coord: "A1", Playouts: 10, Value: 0.5, Parent: root}}

	remote := []RemoteStat{{Coord: "A1", Playouts: 30, Value: 0.7}}
	if err := root.Merge(remote); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	after1 := *root.ChildByCoord("A1")

	// Re-merging a snapshot reporting no contribution since the last
	// sync (its prior equals its own current value, matching dest's
	// now-updated prior) must leave dest unchanged: the delta is zero.
	sameSnapshot := []RemoteStat{{
		Coord: "A1", Playouts: after1.Playouts, Value: after1.Value,
		PriorPlayouts: after1.Playouts, PriorValue: after1.Value,
	}}
	if err := root.Merge(sameSnapshot); err != nil {
		t.Fatalf("idempotent merge: %v", err)
	}
	after2 := *root.ChildByCoord("A1")
	if after1.Playouts != after2.Playouts || after1.Value != after2.Value {
		t.Fatalf("idempotent merge changed state: %+v -> %+v", after1, after2)
	}

	// A stale-prior replay (disagreeing with dest's current prior) is a
	// protocol error, not a silent no-op.
	stale := []RemoteStat{{Coord: "A1", Playouts: 30, Value: 0.7, PriorPlayouts: 0}}
	if err := root.Merge(stale); !errors.Is(err, ErrPriorMismatch) {
		t.Fatalf("expected ErrPriorMismatch on stale prior replay, got %v", err)
	}
}

func TestMergeInvariantsHold(t *testing.T) {
	root := NewRoot()
	remote := []RemoteStat{{Coord: "A1", Playouts: 100, Value: 0.9}}
	if err := root.Merge(remote); err != nil {
		t.Fatalf("merge: %v", err)
	}
	a1 := root.ChildByCoord("A1")
	if a1.Playouts < a1.PriorPlayouts {
		t.Fatalf("playouts < prior_playouts: %+v", a1)
	}
	wins := a1.Value * float64(a1.Playouts)
	if wins > float64(a1.Playouts)+1e-9 {
		t.Fatalf("wins > playouts: %+v", a1)
	}
}

func TestReportDeltaAndMarkReported(t *testing.T) {
	root := NewRoot()
	root.Children = []*Node{{Coord: "A1", Playouts: 20, Value: 0.5, Parent: root}}

	deltas := root.ReportDelta()
	if len(deltas) != 1 || deltas[0].Playouts != 20 {
		t.Fatalf("deltas = %+v", deltas)
	}

	root.MarkReported()
	if got := root.ReportDelta(); len(got) != 0 {
		t.Fatalf("expected no delta after MarkReported, got %+v", got)
	}

	root.Children[0].Playouts += 5
	got := root.ReportDelta()
	if len(got) != 1 || got[0].Playouts != 5 {
		t.Fatalf("deltas after growth = %+v", got)
	}
}
