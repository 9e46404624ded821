// Package registry implements the master's command history: an
// append-only, strictly-ordered log of commands issued to slaves, with
// the three mutations the protocol needs (append, replace-last,
// supersede-last-with-new-id) and a broadcast condition variable that
// wakes sessions waiting for new work.
//
// The mutex guards the log only; the reply buffer (collector.ReplyBuffer)
// has its own separate mutex, and this lock does not cover it. The
// registry lock is held only for the duration of a mutation or a log
// read, never across a socket read or a collector wait.
package registry

import (
	"fmt"
	"sync"

	"github.com/gobaduk/pachimaster/internal/wire"
)

// Registry is the process-wide command history singleton. Its lifetime
// is tied to the master.Engine that constructs it, not to package-level
// global state.
type Registry struct {
	mu       sync.Mutex
	cond     *sync.Cond
	log      []wire.Command
	onMutate func(wire.Command)
}

// New constructs an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// SetOnMutate installs a hook called, outside the protocol lock, with
// every command appended or mutated in place (Append, ReplaceLast, and
// the Append a SupersedeLastWithNewID performs). master.Engine uses
// this to mirror the registry into the history store, the same way
// gtp.Dispatcher.OnMove mirrors committed moves.
func (r *Registry) SetOnMutate(fn func(wire.Command)) {
	r.mu.Lock()
	r.onMutate = fn
	r.mu.Unlock()
}

func (r *Registry) notifyMutate(cmd wire.Command) {
	r.mu.Lock()
	fn := r.onMutate
	r.mu.Unlock()
	if fn != nil {
		fn(cmd)
	}
}

// Append adds a new command, assigning it the next sequence id, and
// wakes everyone waiting on new work.
func (r *Registry) Append(verb, args string) wire.Command {
	r.mu.Lock()
	cmd := wire.Command{ID: int64(len(r.log)) + 1, Verb: verb, Args: args, Gen: 1}
	r.log = append(r.log, cmd)
	r.cond.Broadcast()
	r.mu.Unlock()
	r.notifyMutate(cmd)
	return cmd
}

// ReplaceLast rewrites the trailing entry's verb/args while preserving
// its id. Used exclusively to turn a provisional pachi-genmoves into an
// incremental-update pachi-genmoves with refreshed prior stats — slaves
// distinguish "new search" from "incremental update" by the unchanged id.
func (r *Registry) ReplaceLast(verb, args string) (wire.Command, error) {
	r.mu.Lock()
	if len(r.log) == 0 {
		r.mu.Unlock()
		return wire.Command{}, fmt.Errorf("registry: replace-last on empty log")
	}
	last := &r.log[len(r.log)-1]
	last.Verb = verb
	last.Args = args
	last.Gen++
	cmd := *last
	r.cond.Broadcast()
	r.mu.Unlock()
	r.notifyMutate(cmd)
	return cmd, nil
}

// SupersedeLastWithNewID appends a new command that logically retires
// the prior trailing entry (used to commit the winning move: the
// provisional search id is left as-is in history, and the new `play`
// command, once transmitted, is what slaves actually execute next).
func (r *Registry) SupersedeLastWithNewID(verb, args string) wire.Command {
	return r.Append(verb, args)
}

// Head returns the id of the most recently appended command, or 0 if
// the log is empty.
func (r *Registry) Head() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.log))
}

// Get returns the command with the given id. ok is false if id is out
// of range (ids are dense and 1-based, so this also rejects id <= 0).
func (r *Registry) Get(id int64) (wire.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 1 || id > int64(len(r.log)) {
		return wire.Command{}, false
	}
	return r.log[id-1], true
}

// Slice returns a copy of every command from id `from` (inclusive)
// through the head, in order — the minimal suffix a resyncing slave
// needs replayed.
func (r *Registry) Slice(from int64) []wire.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if from < 1 {
		from = 1
	}
	if from > int64(len(r.log)) {
		return nil
	}
	out := make([]wire.Command, len(r.log)-int(from)+1)
	copy(out, r.log[from-1:])
	return out
}

// WaitForCommandAfter blocks until a command with id > after exists,
// then returns it. It never holds the lock across the wait itself —
// sync.Cond.Wait releases it for the duration.
func (r *Registry) WaitForCommandAfter(after int64) wire.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	for int64(len(r.log)) <= after {
		r.cond.Wait()
	}
	return r.log[after]
}

// WaitForNext blocks until either a new command beyond lastID exists,
// or the entry at lastID has been mutated in place (its generation has
// advanced past lastGen, i.e. a replace-last happened) — then returns
// that command. This is how a session distinguishes "new search" from
// "incremental update to the search already in flight": the id is
// unchanged, only Gen moved.
func (r *Registry) WaitForNext(lastID, lastGen int64) wire.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if int64(len(r.log)) > lastID {
			return r.log[lastID]
		}
		if lastID >= 1 && lastID <= int64(len(r.log)) && r.log[lastID-1].Gen > lastGen {
			return r.log[lastID-1]
		}
		r.cond.Wait()
	}
}
