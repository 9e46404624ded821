// Package collector implements the reply-side barrier: a sparse,
// per-slave reply buffer plus a single operation, WaitUntil, that
// blocks until a deadline elapses, every connected slave has answered
// the current command, or the caller's context is cancelled.
//
// Grounded on the ticker/select shape of the teacher's poll loop
// (internal/timeline/loop.go), generalized from a fixed-interval ticker
// into a one-shot deadline wait woken by publish events instead of time
// ticks.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/gobaduk/pachimaster/internal/wire"
)

// entry pairs a slave's most recent reply with a buffer-wide sequence
// number assigned at publish time, so callers that poll repeatedly for
// the same command id (the genmoves loop, whose search command keeps
// its id across incremental updates) can tell "still the reply I
// already folded in" apart from "a genuinely new one just arrived".
type entry struct {
	reply wire.Reply
	seq   int64
}

// ReplyBuffer holds the most recent reply received from each slave.
// Only entries whose id matches the command currently outstanding count
// toward an aggregated wait; stale entries are simply overwritten by
// the next reply from that slave.
type ReplyBuffer struct {
	mu      sync.Mutex
	latest  map[string]entry // slaveID -> most recent reply
	nextSeq int64
	waiters chan struct{} // closed and replaced on every Publish
}

// NewReplyBuffer constructs an empty ReplyBuffer.
func NewReplyBuffer() *ReplyBuffer {
	return &ReplyBuffer{
		latest:  make(map[string]entry),
		waiters: make(chan struct{}),
	}
}

// Publish records slaveID's latest reply and wakes any collector
// waiting for new replies. Out-of-order or stale replies (checked by
// the caller against the session's last-sent id) should never reach
// here — Session discards those silently before publishing.
func (b *ReplyBuffer) Publish(slaveID string, r wire.Reply) {
	b.mu.Lock()
	b.nextSeq++
	b.latest[slaveID] = entry{reply: r, seq: b.nextSeq}
	ch := b.waiters
	b.waiters = make(chan struct{})
	b.mu.Unlock()
	close(ch)
}

// snapshotFor returns a stable copy of every reply currently keyed to
// id, plus the wake channel to select on for the next change.
func (b *ReplyBuffer) snapshotFor(id int64) (map[string]wire.Reply, chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]wire.Reply, len(b.latest))
	for slave, e := range b.latest {
		if e.reply.ID == id {
			out[slave] = e.reply
		}
	}
	return out, b.waiters
}

// snapshotFreshSince returns, for entries matching id, only those
// published after the sequence number recorded in since for that
// slave — plus an updated since map reflecting what was just seen.
func (b *ReplyBuffer) snapshotFreshSince(id int64, since map[string]int64) (map[string]wire.Reply, map[string]int64, chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fresh := make(map[string]wire.Reply)
	next := make(map[string]int64, len(since))
	for k, v := range since {
		next[k] = v
	}
	for slave, e := range b.latest {
		if e.reply.ID != id {
			continue
		}
		if e.seq > since[slave] {
			fresh[slave] = e.reply
			next[slave] = e.seq
		}
	}
	return fresh, next, b.waiters
}

// Collector is the wait_until barrier. It is stateless beyond the
// buffer it reads and the connected-slave roster callback it's given.
type Collector struct {
	buf *ReplyBuffer
}

// New constructs a Collector reading from buf.
func New(buf *ReplyBuffer) *Collector {
	return &Collector{buf: buf}
}

// WaitUntil blocks until deadline, until every id in connected() has a
// reply for cmdID in the buffer, or until ctx is cancelled — whichever
// comes first. It always returns a stable, lock-free snapshot of the
// replies seen for cmdID.
func (c *Collector) WaitUntil(ctx context.Context, deadline time.Time, cmdID int64, connected func() []string) map[string]wire.Reply {
	for {
		snapshot, wake := c.buf.snapshotFor(cmdID)
		if allReplied(snapshot, connected()) {
			return snapshot
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return snapshot
		}

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			return snapshot
		case <-ctx.Done():
			timer.Stop()
			return snapshot
		}
	}
}

// WaitUntilFresh is the genmoves loop's variant of wait_until: it only
// counts a slave as "replied" once it has published a reply newer than
// the one already consumed by a prior call (tracked via since), which
// lets the search command keep the same id across incremental updates
// without the loop re-folding a stale reply on every poll. It returns
// the fresh replies seen plus the since map to pass into the next call.
func (c *Collector) WaitUntilFresh(ctx context.Context, deadline time.Time, cmdID int64, connected func() []string, since map[string]int64) (map[string]wire.Reply, map[string]int64) {
	ids := connected()
	if len(ids) == 0 {
		fresh, next, _ := c.buf.snapshotFreshSince(cmdID, since)
		return fresh, next
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		fresh, next, wake := c.buf.snapshotFreshSince(cmdID, since)
		if allFresh(fresh, ids) {
			return fresh, next
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fresh, next
		}

		select {
		case <-wake:
		case <-timer.C:
			fresh, next, _ = c.buf.snapshotFreshSince(cmdID, since)
			return fresh, next
		case <-ctx.Done():
			fresh, next, _ = c.buf.snapshotFreshSince(cmdID, since)
			return fresh, next
		}
	}
}

func allFresh(fresh map[string]wire.Reply, connected []string) bool {
	for _, id := range connected {
		if _, ok := fresh[id]; !ok {
			return false
		}
	}
	return true
}

func allReplied(snapshot map[string]wire.Reply, connected []string) bool {
	if len(connected) == 0 {
		return true
	}
	for _, id := range connected {
		if _, ok := snapshot[id]; !ok {
			return false
		}
	}
	return true
}
