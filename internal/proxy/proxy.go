// Package proxy implements the master's optional diagnostic log
// fan-in: slaves may open a second connection on proxy_port to stream
// free-form log lines, which the master multiplexes onto its own
// stderr. No reply is ever sent back on this channel.
//
// Grounded on the fan-out subscriber bookkeeping of WingRegistry in
// internal/relay/workers.go, inverted here into fan-in: many sources,
// one sink, rather than one source broadcast to many subscribers.
package proxy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"
)

// lineRateLimit and lineBurst bound how many diagnostic lines per
// second a single slave's proxy connection may emit, so one noisy
// slave cannot starve the master's own stderr output.
const (
	lineRateLimit = 200 // lines/sec
	lineBurst     = 400
)

// FanIn owns the proxy_port listener and multiplexes every connected
// source's lines onto a single writer (normally os.Stderr).
type FanIn struct {
	out io.Writer
	log *slog.Logger
	tty bool

	mu      sync.Mutex
	sources map[string]net.Conn
}

// New constructs a FanIn writing multiplexed lines to out. When out is
// a terminal, source labels are dimmed with an ANSI escape so they
// stand out from the slave's own diagnostic text without fighting for
// attention; a redirected/piped out gets plain labels.
func New(out io.Writer, log *slog.Logger) *FanIn {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &FanIn{out: out, log: log, tty: tty, sources: make(map[string]net.Conn)}
}

// Serve accepts proxy connections on ln until it closes or done fires.
func (f *FanIn) Serve(ln net.Listener, done <-chan struct{}) {
	go func() {
		<-done
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				f.log.Warn("proxy listener accept error", "err", err)
				return
			}
		}
		f.add(conn)
		go f.drain(conn)
	}
}

func (f *FanIn) add(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[conn.RemoteAddr().String()] = conn
}

func (f *FanIn) remove(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, conn.RemoteAddr().String())
}

// drain reads lines from one source connection and writes them to out,
// rate-limited per source, until the connection closes.
func (f *FanIn) drain(conn net.Conn) {
	defer conn.Close()
	defer f.remove(conn)

	limiter := rate.NewLimiter(rate.Limit(lineRateLimit), lineBurst)
	remote := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			if limiter.Allow() {
				if f.tty {
					fmt.Fprintf(f.out, "\x1b[2m[slave %s]\x1b[0m %s", remote, line)
				} else {
					fmt.Fprintf(f.out, "[slave %s] %s", remote, line)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				f.log.Debug("proxy source closed", "remote", remote, "err", err)
			}
			return
		}
	}
}
