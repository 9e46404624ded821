// Package master wires together every protocol component into one
// running process: the slave-port listener, the optional proxy-port
// log fan-in, and the upstream GTP dispatch loop, plus the shared
// registry/collector/genmoves.Loop they all operate on.
//
// Grounded on the goroutine wiring and errCh/select shutdown shape of
// internal/daemon/daemon.go, expressed with golang.org/x/sync/errgroup
// (the teacher's own indirect x/sync dependency, promoted to direct
// here) instead of a hand-rolled error channel.
package master

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/gobaduk/pachimaster/internal/board"
	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/config"
	"github.com/gobaduk/pachimaster/internal/genmoves"
	"github.com/gobaduk/pachimaster/internal/gtp"
	"github.com/gobaduk/pachimaster/internal/proxy"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/session"
	"github.com/gobaduk/pachimaster/internal/store"
	"github.com/gobaduk/pachimaster/internal/wire"
)

// Engine owns every shared piece of master state and the goroutines
// that drive them.
type Engine struct {
	// Watcher is the live config source: slave_port/proxy_port are read
	// once at construction (they're listener-bound), but MaxSlaves and
	// SlavesQuit are re-read from it on every connection/quit so an
	// on-disk override takes effect without a restart.
	Watcher *config.Watcher
	Store   *store.Store // may be nil: history persistence is optional
	Log     *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	slavePort  int
	proxyPort  int
	reg        *registry.Registry
	buf        *collector.ReplyBuffer
	collector  *collector.Collector
	sessions   *session.Manager
	genmoves   *genmoves.Loop
	dispatcher *gtp.Dispatcher
}

// New constructs an Engine ready to Run. Store may be nil if history
// persistence was not configured. watcher supplies both the startup
// slave_port/proxy_port (read once, since listeners are bound at
// startup) and the live max_slaves/slaves_quit knobs (re-read on every
// use).
func New(watcher *config.Watcher, st *store.Store, log *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) *Engine {
	startup := watcher.Current()
	reg := registry.New()
	buf := collector.NewReplyBuffer()
	col := collector.New(buf)
	sessions := session.NewManager(reg, buf, log, watcher.MaxSlaves)
	gm := genmoves.New(reg, col, sessions.Connected, log)
	d := gtp.New(reg, col, sessions.Connected, gm, watcher.SlavesQuit, log)

	e := &Engine{
		Watcher:    watcher,
		Store:      st,
		Log:        log,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		slavePort:  startup.SlavePort,
		proxyPort:  startup.ProxyPort,
		reg:        reg,
		buf:        buf,
		collector:  col,
		sessions:   sessions,
		genmoves:   gm,
		dispatcher: d,
	}
	if st != nil {
		d.OnMove = e.recordMove
		reg.SetOnMutate(e.recordCommand)
	}
	return e
}

func (e *Engine) recordMove(result genmoves.Result, color board.Color) {
	if e.Store == nil {
		return
	}
	if err := e.Store.RecordMove(store.MoveRecord{
		SearchID:      e.reg.Head(),
		Color:         color.String(),
		Move:          result.Move,
		TotalPlayouts: result.TotalPlayouts,
	}); err != nil {
		e.Log.Warn("master: failed to record move in history store", "err", err)
	}
}

// recordCommand mirrors every registry append/replace-last into the
// history store, so `pachimaster history` reflects the command log the
// same way it reflects committed moves.
func (e *Engine) recordCommand(cmd wire.Command) {
	if e.Store == nil {
		return
	}
	if err := e.Store.RecordCommand(cmd); err != nil {
		e.Log.Warn("master: failed to record command in history store", "err", err)
	}
}

// Run starts the slave listener, the optional proxy listener, and the
// upstream GTP dispatch loop as sibling goroutines under one
// errgroup.Group: the first one to fail or the context being cancelled
// tears the whole engine down. It returns once every goroutine has
// exited.
func (e *Engine) Run(ctx context.Context) error {
	slaveLn, err := listen("tcp", fmt.Sprintf(":%d", e.slavePort))
	if err != nil {
		return fmt.Errorf("master: bind slave_port %d: %w", e.slavePort, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		<-gctx.Done()
		close(done)
		return nil
	})

	g.Go(func() error {
		e.sessions.Serve(slaveLn, done)
		return nil
	})

	if e.proxyPort != 0 {
		proxyLn, err := listen("tcp", fmt.Sprintf(":%d", e.proxyPort))
		if err != nil {
			slaveLn.Close()
			return fmt.Errorf("master: bind proxy_port %d: %w", e.proxyPort, err)
		}
		fanIn := proxy.New(e.Stderr, e.Log)
		g.Go(func() error {
			fanIn.Serve(proxyLn, done)
			return nil
		})
	}

	g.Go(func() error {
		err := e.dispatcher.Run(gctx, e.Stdin, e.Stdout)
		// A clean upstream EOF/quit ends the engine the same as any
		// other goroutine finishing: nothing left to coordinate.
		if err == nil || err == context.Canceled {
			return errEngineStopped
		}
		return fmt.Errorf("master: upstream gtp loop: %w", err)
	})

	err = g.Wait()
	if err == errEngineStopped {
		return nil
	}
	return err
}

// errEngineStopped is a private sentinel the dispatcher goroutine uses
// to end the errgroup cleanly (cancelling every sibling) without that
// clean shutdown being mistaken for a real failure by the caller.
var errEngineStopped = fmt.Errorf("master: engine stopped")

// Exit is a convenience for cmd/pachimaster: logs err (if any) and
// returns the process exit code per the external-interface contract
// (nonzero on missing slave_port, bind failure, or fatal protocol
// error).
func Exit(err error, log *slog.Logger) int {
	if err == nil {
		return 0
	}
	log.Error("master: fatal error", "err", err)
	return 1
}
