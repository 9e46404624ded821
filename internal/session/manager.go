package session

import (
	"log/slog"
	"net"
	"sync"

	"github.com/gobaduk/pachimaster/internal/collector"
	"github.com/gobaduk/pachimaster/internal/registry"
)

// Manager owns the slave-port listener and the live set of sessions.
// It is the "connected slaves" roster the collector consults for its
// quorum check and the genmoves loop consults for its merge fan-in.
type Manager struct {
	reg       *registry.Registry
	buf       *collector.ReplyBuffer
	log       *slog.Logger
	maxSlaves func() int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager bound to the given registry and
// reply buffer. Both are shared with the genmoves loop and the
// collector — there is exactly one of each per master.Engine. maxSlaves
// is consulted on every accepted connection rather than copied in once,
// so a live config.Watcher override takes effect immediately.
func NewManager(reg *registry.Registry, buf *collector.ReplyBuffer, log *slog.Logger, maxSlaves func() int) *Manager {
	return &Manager{
		reg:       reg,
		buf:       buf,
		log:       log,
		maxSlaves: maxSlaves,
		sessions:  make(map[string]*Session),
	}
}

// Serve accepts connections on ln until it's closed or done fires,
// spawning one Session goroutine per accepted slave. Once Count()
// reaches maxSlaves(), further connections are refused immediately
// (closed without ever being registered) until one disconnects. It
// returns once the listener stops producing connections.
func (m *Manager) Serve(ln net.Listener, done <-chan struct{}) {
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
				m.log.Warn("slave listener accept error", "err", err)
				return
			}
		}

		if limit := m.maxSlaves(); limit > 0 && m.Count() >= limit {
			m.log.Warn("slave connection refused: max_slaves reached", "remote", conn.RemoteAddr(), "max_slaves", limit)
			conn.Close()
			continue
		}

		sess := new(conn, m.reg, m.buf, m.log)
		m.add(sess)
		m.log.Info("slave connected", "session", sess.ID, "remote", conn.RemoteAddr())
		go func() {
			defer m.remove(sess.ID)
			sess.Run(done)
			m.log.Info("slave disconnected", "session", sess.ID)
		}()
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Connected returns the ids of every session not yet disconnected —
// the roster the collector's wait_until barrier and the genmoves loop
// use to decide when every live slave has answered.
func (m *Manager) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.State() != StateDisconnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of sessions currently tracked, connected or
// awaiting resync — the count Serve compares against maxSlaves().
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot returns a point-in-time copy of every tracked session, for
// diagnostics.
func (m *Manager) Snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
