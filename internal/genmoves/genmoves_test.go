package genmoves

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gobaduk/pachimaster/internal/board"
	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregateWeightedMergeAcrossSlaves(t *testing.T) {
	agg := newAggregate()
	// Scenario: slave1 reports A1 60@0.60, B2 40@0.40; slave2 reports
	// A1 50@0.65, B2 30@0.35 — any arrival order yields the same totals.
	agg.add(wire.ChildStat{Coord: "A1", Playouts: 60, Value: 0.60})
	agg.add(wire.ChildStat{Coord: "B2", Playouts: 40, Value: 0.40})
	agg.add(wire.ChildStat{Coord: "A1", Playouts: 50, Value: 0.65})
	agg.add(wire.ChildStat{Coord: "B2", Playouts: 30, Value: 0.35})

	a1 := agg.byCoord["A1"]
	if a1.Playouts != 110 {
		t.Fatalf("A1 playouts = %d, want 110", a1.Playouts)
	}
	wantA1 := (60*0.60 + 50*0.65) / 110.0
	if diff := a1.Value - wantA1; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("A1 value = %v, want %v", a1.Value, wantA1)
	}

	b2 := agg.byCoord["B2"]
	if b2.Playouts != 70 {
		t.Fatalf("B2 playouts = %d, want 70", b2.Playouts)
	}
	wantB2 := (40*0.40 + 30*0.35) / 70.0
	if diff := b2.Value - wantB2; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("B2 value = %v, want %v", b2.Value, wantB2)
	}

	if best := agg.best(); best.Coord != "A1" {
		t.Fatalf("best = %+v, want A1", best)
	}
}

func TestAggregateCommutesOverArrivalOrder(t *testing.T) {
	build := func(order [][2]wire.ChildStat) *aggregate {
		agg := newAggregate()
		for _, pair := range order {
			agg.add(pair[0])
			agg.add(pair[1])
		}
		return agg
	}
	a := build([][2]wire.ChildStat{
		{{Coord: "A1", Playouts: 60, Value: 0.6}, {Coord: "B2", Playouts: 40, Value: 0.4}},
		{{Coord: "A1", Playouts: 50, Value: 0.65}, {Coord: "B2", Playouts: 30, Value: 0.35}},
	})
	b := build([][2]wire.ChildStat{
		{{Coord: "B2", Playouts: 30, Value: 0.35}, {Coord: "A1", Playouts: 50, Value: 0.65}},
		{{Coord: "B2", Playouts: 40, Value: 0.4}, {Coord: "A1", Playouts: 60, Value: 0.6}},
	})
	if a.best().Coord != b.best().Coord {
		t.Fatalf("best move depends on arrival order: %v vs %v", a.best(), b.best())
	}
	if a.byCoord["A1"].Playouts != b.byCoord["A1"].Playouts {
		t.Fatalf("A1 playouts depend on arrival order")
	}
}

func TestAggregateBestTieBreaksFirstEncountered(t *testing.T) {
	agg := newAggregate()
	agg.add(wire.ChildStat{Coord: "B2", Playouts: 50, Value: 0.5})
	agg.add(wire.ChildStat{Coord: "A1", Playouts: 50, Value: 0.5})
	if best := agg.best(); best.Coord != "B2" {
		t.Fatalf("best = %+v, want first-encountered B2", best)
	}
}

func TestLoopCommitsMoveAndAppendsPlayAtNewID(t *testing.T) {
	reg := registry.New()
	buf := collector.NewReplyBuffer()
	col := collector.New(buf)
	connected := func() []string { return []string{"s1", "s2"} }
	loop := New(reg, col, connected, discardLogger())

	go func() {
		// Let the loop append the search command first.
		reg.WaitForCommandAfter(0)
		payload1 := wire.EncodeGenmovesReply(wire.GenmovesReplyBody{
			PlayedOwn: "D4", TotalPlayouts: 100, Threads: 4, KeepLooking: false,
			Children: []wire.ChildStat{
				{Coord: "D4", Playouts: 90, Value: 0.7},
				{Coord: "Q16", Playouts: 10, Value: 0.3},
			},
		})
		payload2 := wire.EncodeGenmovesReply(wire.GenmovesReplyBody{
			PlayedOwn: "D4", TotalPlayouts: 80, Threads: 4, KeepLooking: false,
			Children: []wire.ChildStat{
				{Coord: "D4", Playouts: 70, Value: 0.68},
			},
		})
		buf.Publish("s1", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: payload1})
		buf.Publish("s2", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: payload2})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result := loop.Run(ctx, Request{Color: board.Black, Budget: Budget{Mode: ModeWallTime, WallTime: time.Hour}})

	if result.Move != "D4" {
		t.Fatalf("move = %q, want D4", result.Move)
	}
	if result.TotalPlayouts != 180 {
		t.Fatalf("total playouts = %d, want 180", result.TotalPlayouts)
	}

	if reg.Head() != 2 {
		t.Fatalf("head = %d, want 2 (search entry + committed play)", reg.Head())
	}
	searchEntry, _ := reg.Get(1)
	if searchEntry.Verb != wire.VerbGenmoves {
		t.Fatalf("entry 1 verb = %q, want unchanged search verb", searchEntry.Verb)
	}
	playEntry, _ := reg.Get(2)
	if playEntry.Verb != "play" || playEntry.Args != "B D4" {
		t.Fatalf("entry 2 = %+v, want play B D4", playEntry)
	}
}

func TestLoopZeroSlavesPassesWithoutTouchingRegistry(t *testing.T) {
	reg := registry.New()
	buf := collector.NewReplyBuffer()
	col := collector.New(buf)
	loop := New(reg, col, func() []string { return nil }, discardLogger())

	result := loop.Run(context.Background(), Request{Color: board.White})
	if result.Move != board.Pass {
		t.Fatalf("move = %q, want pass", result.Move)
	}
	if reg.Head() != 0 {
		t.Fatalf("registry head = %d, want untouched (0)", reg.Head())
	}
}

func TestLoopContinuesOnKeepLookingMajority(t *testing.T) {
	reg := registry.New()
	buf := collector.NewReplyBuffer()
	col := collector.New(buf)
	connected := func() []string { return []string{"s1", "s2", "s3"} }
	loop := New(reg, col, connected, discardLogger())

	go func() {
		reg.WaitForCommandAfter(0)
		// Round 1: majority keep_looking=true -> loop must continue
		// (i.e. not commit a play yet).
		mk := func(keep bool, playouts int) string {
			return wire.EncodeGenmovesReply(wire.GenmovesReplyBody{
				PlayedOwn: "D4", TotalPlayouts: playouts, Threads: 1, KeepLooking: keep,
				Children: []wire.ChildStat{{Coord: "D4", Playouts: playouts, Value: 0.6}},
			})
		}
		buf.Publish("s1", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(true, 10)})
		buf.Publish("s2", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(true, 10)})
		buf.Publish("s3", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(false, 10)})

		time.Sleep(StatsUpdateInterval + 30*time.Millisecond)

		// Round 2: minority keep_looking -> loop exits.
		buf.Publish("s1", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(false, 20)})
		buf.Publish("s2", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(false, 20)})
		buf.Publish("s3", wire.Reply{ID: 1, Status: wire.StatusSuccess, Payload: mk(true, 20)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	result := loop.Run(ctx, Request{Color: board.Black, Budget: Budget{Mode: ModeWallTime, WallTime: time.Hour}})
	if time.Since(start) < StatsUpdateInterval {
		t.Fatalf("loop exited on the very first poll, expected to continue past round 1")
	}
	if result.Move != "D4" {
		t.Fatalf("move = %q, want D4", result.Move)
	}
}
