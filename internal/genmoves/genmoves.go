// Package genmoves implements the master's central search-aggregation
// loop: it appends a pachi-genmoves command, polls the reply
// collector at a fixed interval, folds every slave's reported child
// stats into a running per-coord aggregate, periodically pushes the
// aggregate back out as updated priors, and finally commits the
// chosen move by superseding the search command with a play.
//
// Grounded on the ticker-driven Engine.Run/poll shape of
// internal/timeline/loop.go, adapted from a fixed-interval task-queue
// poll into a bounded aggregation loop with its own exit conditions.
package genmoves

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gobaduk/pachimaster/internal/board"
	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

// StatsUpdateInterval is how often the loop polls the collector for
// fresh replies while a search is in progress.
const StatsUpdateInterval = 100 * time.Millisecond

// Mode selects which of the two time-budget interpretations ti carries.
type Mode int

const (
	ModeWallTime Mode = iota
	ModePlayouts
)

// Budget is the time/playouts allowance for one genmoves call. Run
// measures elapsed wall time itself from its own start; Budget only
// records the limits it compares against and is never modified.
type Budget struct {
	Mode          Mode
	WallTime      time.Duration
	TargetPlayout int
}

// Request describes one genmoves invocation.
type Request struct {
	Color   board.Color
	Cleanup bool
	Budget  Budget
	// Header fields forwarded to slaves verbatim; zero value omits time info.
	MainTime, ByoyomiTime       float64
	ByoyomiPeriods, ByoyomiStones int
	HasTimeInfo                 bool
}

// MoveStat is one coord's aggregated statistics across every slave
// that has reported on it so far.
type MoveStat struct {
	Coord        string
	Playouts     int
	Value        float64
	AMAFPlayouts int
	AMAFValue    float64
}

// Result is what the loop produces once it commits a move.
type Result struct {
	Move          string
	TotalPlayouts int
	Stats         map[string]MoveStat
	Best          MoveStat
}

// Loop runs one genmoves search to completion. It is stateless across
// calls — all state lives in the registry, the reply buffer (via the
// collector), and the local aggregate built up during Run.
type Loop struct {
	Reg       *registry.Registry
	Collector *collector.Collector
	Connected func() []string
	Log       *slog.Logger
}

// New constructs a Loop over the given shared registry/collector. The
// connected callback supplies the live slave roster (normally
// session.Manager.Connected).
func New(reg *registry.Registry, col *collector.Collector, connected func() []string, log *slog.Logger) *Loop {
	return &Loop{Reg: reg, Collector: col, Connected: connected, Log: log}
}

// Run executes steps 1-4 of the aggregation algorithm: append, poll,
// merge, decide, repeat, then commit. It returns once a move has been
// chosen and the committing `play` command has been appended; with no
// connected slave it returns pass at once and appends nothing.
func (l *Loop) Run(ctx context.Context, req Request) Result {
	if len(l.Connected()) == 0 {
		// No slave to search with: the only honest answer is to pass.
		// Nothing is appended to the registry — there is no one to
		// replay it to, and a future slave resyncing from zero must
		// not see a phantom search it never participated in.
		return Result{Move: board.Pass, Stats: map[string]MoveStat{}}
	}

	verb := verbFor(req)
	header := wire.GenmovesHeader{
		Color:          req.Color.String(),
		Played:         "0",
		HasTimeInfo:    req.HasTimeInfo,
		MainTime:       req.MainTime,
		ByoyomiTime:    req.ByoyomiTime,
		ByoyomiPeriods: req.ByoyomiPeriods,
		ByoyomiStones:  req.ByoyomiStones,
	}
	cmd := l.Reg.Append(verb, wire.EncodeGenmovesRequest(wire.GenmovesRequest{Header: header}))

	agg := newAggregate()
	start := time.Now()
	played := 0
	since := make(map[string]int64)
	keepLooking := true // no vote yet this search: never exit on an empty tick

	for {
		deadline := time.Now().Add(StatsUpdateInterval)
		var replies map[string]wire.Reply
		replies, since = l.Collector.WaitUntilFresh(ctx, deadline, cmd.ID, l.Connected, since)

		var keepVotes, totalVotes int
		for _, r := range replies {
			if r.Status != wire.StatusSuccess {
				continue
			}
			body, err := wire.DecodeGenmovesReply(r.Payload)
			if err != nil {
				l.Log.Warn("genmoves: malformed reply discarded", "err", err)
				continue
			}
			played += body.TotalPlayouts
			totalVotes++
			if body.KeepLooking {
				keepVotes++
			}
			for _, c := range body.Children {
				agg.add(c)
			}
		}

		best := agg.best()
		if totalVotes > 0 {
			// Only a tick with fresh votes can move the majority; an
			// idle tick (no slave has new stats yet) keeps whatever
			// the last round decided.
			keepLooking = keepVotes*2 > totalVotes
		}

		exit := !keepLooking
		if req.Budget.Mode == ModeWallTime && time.Since(start) >= req.Budget.WallTime {
			exit = true
		}
		if req.Budget.Mode == ModePlayouts && played >= req.Budget.TargetPlayout {
			exit = true
		}
		select {
		case <-ctx.Done():
			exit = true
		default:
		}

		if exit {
			move := best.Coord
			if move == "" {
				move = board.Pass
			}
			l.Reg.SupersedeLastWithNewID("play", req.Color.String()+" "+move)
			return Result{
				Move:          move,
				TotalPlayouts: played,
				Stats:         agg.snapshot(),
				Best:          best,
			}
		}

		priors := agg.priorsAbove(best.Playouts / 100)
		header.Played = strconv.Itoa(played)
		updated := wire.EncodeGenmovesRequest(wire.GenmovesRequest{Header: header, Priors: priors})
		if _, err := l.Reg.ReplaceLast(verb, updated); err != nil {
			l.Log.Warn("genmoves: replace-last failed", "err", err)
		}
	}
}

func verbFor(req Request) string {
	if req.Cleanup {
		return wire.VerbGenmovesCleanup
	}
	return wire.VerbGenmoves
}
