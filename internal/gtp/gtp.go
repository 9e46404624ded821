// Package gtp is the master's upstream-facing edge: a line-oriented
// GTP reader/writer on stdin/stdout. Full GTP is explicitly out of
// scope (board legality, SGF/book tooling); this package only
// implements the dispatch table a master needs: handle a handful of
// verbs locally (genmove and its cleanup variant drive the genmoves
// loop, final_status_list drives consensus, quit controls shutdown)
// and forward everything else straight to the slave fleet, returning
// whatever they answer within MAX_FAST_CMD_WAIT.
//
// Grounded on the request-dispatch-table shape of
// internal/transport/server.go's registerRoutes, adapted from HTTP
// routes to a stdin line loop.
package gtp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gobaduk/pachimaster/internal/board"
	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/consensus"
	"github.com/gobaduk/pachimaster/internal/genmoves"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

// command is one parsed upstream GTP request. ID is nil when the
// arbiter omitted the optional leading integer.
type command struct {
	ID   *int
	Verb string
	Args string
}

func parseLine(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	fields := strings.Fields(line)
	idx := 0
	var id *int
	if n, err := strconv.Atoi(fields[0]); err == nil {
		id = &n
		idx = 1
	}
	if idx >= len(fields) {
		return command{}, false
	}
	return command{ID: id, Verb: fields[idx], Args: strings.Join(fields[idx+1:], " ")}, true
}

func writeReply(w *bufio.Writer, id *int, ok bool, payload string) {
	sigil := "="
	if !ok {
		sigil = "?"
	}
	if id != nil {
		fmt.Fprintf(w, "%s%d %s\n\n", sigil, *id, payload)
	} else {
		fmt.Fprintf(w, "%s %s\n\n", sigil, payload)
	}
	w.Flush()
}

// timeState is the most recent time_left seen for each color, applied
// to the next genmove/kgs-genmove_cleanup budget.
type timeState struct {
	mainTime, byoyomiTime         float64
	byoyomiPeriods, byoyomiStones int
	has                           bool
}

// Dispatcher owns the upstream GTP loop and everything it needs to
// either answer locally or forward to the slave fleet.
type Dispatcher struct {
	Reg       *registry.Registry
	Collector *collector.Collector
	Connected func() []string
	Genmoves  *genmoves.Loop
	Log       *slog.Logger

	// SlavesQuit is consulted on every upstream "quit", not copied in
	// once at construction, so a live config.Watcher override (or a
	// plain constant, via func() bool { return v }) takes effect
	// immediately.
	SlavesQuit func() bool

	// OnMove, if set, is called after every committed genmoves.Result
	// (used by master.Engine to mirror results into the history store).
	OnMove func(genmoves.Result, board.Color)

	times     map[board.Color]*timeState
	lastMove  genmoves.Result
	lastColor board.Color
}

// New constructs a Dispatcher over the given shared protocol state.
func New(reg *registry.Registry, col *collector.Collector, connected func() []string, gm *genmoves.Loop, slavesQuit func() bool, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Reg:        reg,
		Collector:  col,
		Connected:  connected,
		Genmoves:   gm,
		SlavesQuit: slavesQuit,
		Log:        log,
		times:      make(map[board.Color]*timeState),
	}
}

// Run drives the dispatch loop against r/w until EOF, ctx cancellation,
// or a locally-handled "quit" ends it.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("gtp: read upstream command: %w", err)
		}
		cmd, ok := parseLine(line)
		if !ok {
			continue
		}

		switch cmd.Verb {
		case "quit":
			if d.SlavesQuit != nil && d.SlavesQuit() {
				d.broadcastFireAndForget(ctx, "quit", "")
			}
			writeReply(writer, cmd.ID, true, "")
			return nil
		case "genmove":
			d.handleGenmove(ctx, cmd, writer, false)
		case "kgs-genmove_cleanup":
			d.handleGenmove(ctx, cmd, writer, true)
		case "final_status_list":
			status := strings.TrimSpace(cmd.Args)
			if status == "" {
				status = "dead"
			}
			dead := consensus.DeadGroups(ctx, d.Reg, d.Collector, d.Connected, status)
			writeReply(writer, cmd.ID, true, strings.Join(dead, " "))
		case "final_score":
			payload := d.forwardFirst(ctx, "final_score", cmd.Args)
			writeReply(writer, cmd.ID, true, payload)
		case "time_left":
			d.handleTimeLeft(cmd.Args)
			writeReply(writer, cmd.ID, true, "")
		case "winrate":
			writeReply(writer, cmd.ID, true, d.winrate())
		case "uct_genbook", "uct_dumpbook", "kgs-chat":
			// Book tooling and chat are explicitly out of scope; these
			// verbs are acknowledged as local no-ops rather than
			// forwarded, so the arbiter never waits on a slave fleet
			// that has nothing useful to say about them.
			writeReply(writer, cmd.ID, true, "")
		default:
			reply := d.forward(ctx, cmd.Verb, cmd.Args)
			writeReply(writer, cmd.ID, true, reply)
		}
	}
}

func (d *Dispatcher) handleGenmove(ctx context.Context, cmd command, writer *bufio.Writer, cleanup bool) {
	color, err := board.ParseColor(cmd.Args)
	if err != nil {
		writeReply(writer, cmd.ID, false, err.Error())
		return
	}

	req := genmoves.Request{
		Color:   color,
		Cleanup: cleanup,
		Budget:  genmoves.Budget{Mode: genmoves.ModeWallTime, WallTime: 5 * time.Second},
	}
	if ts := d.times[color]; ts != nil && ts.has {
		req.HasTimeInfo = true
		req.MainTime = ts.mainTime
		req.ByoyomiTime = ts.byoyomiTime
		req.ByoyomiPeriods = ts.byoyomiPeriods
		req.ByoyomiStones = ts.byoyomiStones
	}

	result := d.Genmoves.Run(ctx, req)
	d.lastMove = result
	d.lastColor = color
	if d.OnMove != nil {
		d.OnMove(result, color)
	}
	writeReply(writer, cmd.ID, true, result.Move)
}

func (d *Dispatcher) handleTimeLeft(args string) {
	f := strings.Fields(args)
	if len(f) != 3 {
		return
	}
	color, err := board.ParseColor(f[0])
	if err != nil {
		return
	}
	seconds, err1 := strconv.ParseFloat(f[1], 64)
	stones, err2 := strconv.Atoi(f[2])
	if err1 != nil || err2 != nil {
		return
	}
	ts := &timeState{has: true}
	if stones == 0 {
		ts.mainTime = seconds
	} else {
		ts.byoyomiTime = seconds
		ts.byoyomiStones = stones
		ts.byoyomiPeriods = 1
	}
	d.times[color] = ts
}

func (d *Dispatcher) winrate() string {
	if d.lastMove.Stats == nil {
		return "0.5000000"
	}
	return fmt.Sprintf("%.7f", d.lastMove.Best.Value)
}

// forward appends verb/args as a broadcast command and waits for
// MAX_FAST_CMD_WAIT, returning the payload of the successful reply from
// the lexicographically-first slave id (deterministic for a given round
// of replies) or empty if none arrived.
func (d *Dispatcher) forward(ctx context.Context, verb, args string) string {
	cmd := d.Reg.Append(verb, args)
	deadline := time.Now().Add(consensus.MaxFastCmdWait)
	replies := d.Collector.WaitUntil(ctx, deadline, cmd.ID, d.Connected)
	return firstSuccessPayload(replies)
}

// forwardFirst is an alias for forward kept distinct for readability
// at call sites that care about "any one slave's answer" semantics
// (final_score) rather than a true broadcast-and-merge.
func (d *Dispatcher) forwardFirst(ctx context.Context, verb, args string) string {
	return d.forward(ctx, verb, args)
}

func (d *Dispatcher) broadcastFireAndForget(ctx context.Context, verb, args string) {
	cmd := d.Reg.Append(verb, args)
	deadline := time.Now().Add(consensus.MaxFastCmdWait)
	d.Collector.WaitUntil(ctx, deadline, cmd.ID, d.Connected)
}

// firstSuccessPayload picks the lexicographically-first slave id so a
// given round of replies resolves to the same answer regardless of
// map iteration order.
func firstSuccessPayload(replies map[string]wire.Reply) string {
	ids := make([]string, 0, len(replies))
	for id, r := range replies {
		if r.Status == wire.StatusSuccess {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return replies[ids[0]].Payload
}
