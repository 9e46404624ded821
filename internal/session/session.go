// Package session implements the master's per-slave connection: a
// socket accept loop, one goroutine per connected slave pulling
// pending commands off the registry and pushing them down the wire,
// and the resync machinery that replays command history instead of
// retrying individual commands.
//
// Grounded on the accept/registration/read-loop shape of
// internal/relay/workers.go's handleWingWS and the plain net.Listen
// accept loop of internal/direct/server.go, adapted from a WebSocket
// JSON envelope protocol to the raw line-oriented GTP wire used here.
package session

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
	"github.com/gobaduk/pachimaster/internal/wire"
)

// State is where a session sits in its connect/resync/disconnect
// lifecycle (spec §3's `state ∈ {connected, awaiting_resync,
// disconnected}`).
type State int

const (
	StateConnected State = iota
	StateAwaitingResync
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingResync:
		return "awaiting_resync"
	default:
		return "disconnected"
	}
}

// unknownPositionPayload is the slave reply payload that signals its
// perceived game state has diverged from the registry's — the sole
// in-band resync trigger beyond a raw transport error.
const unknownPositionPayload = "unknown position"

// Session is one slave connection: socket, command-history cursor,
// and the transition into awaiting_resync / disconnected.
type Session struct {
	ID string

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	reg *registry.Registry
	buf *collector.ReplyBuffer
	log *slog.Logger

	mu          sync.Mutex
	lastSentID  int64
	lastSentGen int64
	lastAckedID int64
	state       State
}

// new constructs a session bound to a freshly accepted connection. A
// reconnecting slave always gets a new uuid and replays from zero —
// the master stores no board state to recover from, only the log.
func new(conn net.Conn, reg *registry.Registry, buf *collector.ReplyBuffer, log *slog.Logger) *Session {
	return &Session{
		ID:     uuid.New().String(),
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		reg:    reg,
		buf:    buf,
		log:    log,
		state:  StateConnected,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns (last_sent_id, last_acked_id) for diagnostics.
func (s *Session) Cursor() (sent, acked int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSentID, s.lastAckedID
}

// Run drives the session's full lifecycle: resync from zero, then the
// steady-state read-next/transmit/await-reply loop, until the socket
// closes or done is signalled. It never returns an error — every
// failure is terminal for this session alone and simply ends Run; the
// caller is responsible for deregistering the session afterward.
func (s *Session) Run(done <-chan struct{}) {
	defer s.conn.Close()

	if !s.resyncFrom(0, done) {
		s.setState(StateDisconnected)
		return
	}

	for {
		select {
		case <-done:
			s.setState(StateDisconnected)
			return
		default:
		}

		s.mu.Lock()
		after, afterGen := s.lastSentID, s.lastSentGen
		s.mu.Unlock()

		cmd := s.reg.WaitForNext(after, afterGen)

		if err := s.transmit(cmd); err != nil {
			s.log.Warn("session transport error on transmit", "session", s.ID, "err", err)
			s.setState(StateDisconnected)
			return
		}

		reply, err := wire.ReadReply(s.reader)
		if err != nil {
			s.log.Warn("session transport error on reply", "session", s.ID, "err", err)
			s.setState(StateDisconnected)
			return
		}
		if reply.ID < cmd.ID {
			// Stale reply to a superseded command: discard silently.
			continue
		}

		if reply.Status == wire.StatusFailure && reply.Payload == unknownPositionPayload {
			s.mu.Lock()
			acked := s.lastAckedID
			s.mu.Unlock()
			s.setState(StateAwaitingResync)
			if !s.resyncFrom(acked, done) {
				s.setState(StateDisconnected)
				return
			}
			s.setState(StateConnected)
			continue
		}

		s.buf.Publish(s.ID, reply)
		s.mu.Lock()
		s.lastAckedID = reply.ID
		s.mu.Unlock()
	}
}

// resyncFrom retransmits every command from (from+1) through the
// current registry head, the minimal suffix a slave at position `from`
// needs to catch up. Each replayed command's reply is read before the
// next one is sent (at most one outstanding command per slave), and
// every reply is recorded as acked and published as it arrives.
func (s *Session) resyncFrom(from int64, done <-chan struct{}) bool {
	backlog := s.reg.Slice(from + 1)
	for _, cmd := range backlog {
		select {
		case <-done:
			return false
		default:
		}
		if err := s.transmit(cmd); err != nil {
			s.log.Warn("session transport error during resync", "session", s.ID, "err", err)
			return false
		}
		reply, err := wire.ReadReply(s.reader)
		if err != nil {
			s.log.Warn("session transport error awaiting resync reply", "session", s.ID, "err", err)
			return false
		}
		s.mu.Lock()
		s.lastAckedID = reply.ID
		s.mu.Unlock()
		s.buf.Publish(s.ID, reply)
	}
	return true
}

func (s *Session) transmit(cmd wire.Command) error {
	if err := wire.WriteCommand(s.writer, cmd); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSentID = cmd.ID
	s.lastSentGen = cmd.Gen
	s.mu.Unlock()
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// errClosed normalizes the handful of ways a closed net.Conn surfaces
// a read/write failure, so callers can tell "socket gone" apart from a
// genuine protocol error.
func errClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
