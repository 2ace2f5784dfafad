package daemon

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrel-os/sessiond/internal/db"
	"github.com/petrel-os/sessiond/internal/session"
)

// termGrace is how long sessions get to exit after SIGTERM before the
// daemon escalates to SIGKILL on shutdown.
const termGrace = 2 * time.Second

type tracked struct {
	id       string
	username string
	child    *session.Child
}

// registry holds sessions that made it through the handshake.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*tracked
}

func (r *registry) init() {
	r.sessions = make(map[string]*tracked)
}

func (r *registry) add(username string, child *session.Child) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &tracked{id: id, username: username, child: child}
	r.mu.Unlock()
	return id
}

// remove takes out the session owning pid, if any.
func (r *registry) remove(pid int) *tracked {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.sessions {
		if t.child.OwnsPid(pid) {
			delete(r.sessions, id)
			return t
		}
	}
	return nil
}

func (r *registry) snapshot() []*tracked {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*tracked, 0, len(r.sessions))
	for _, t := range r.sessions {
		out = append(out, t)
	}
	return out
}

// sessionEnded attributes a reaped pid to its session and closes out the
// history record. Exits of unrelated children are ignored.
func (d *Daemon) sessionEnded(pid int) {
	t := d.registry.remove(pid)
	if t == nil {
		return
	}
	d.log.Info().Str("session", t.id).Str("user", t.username).Int("pid", pid).Msg("session ended")
	if d.store != nil {
		if err := d.store.RecordEnd(t.id, db.StatusEnded); err != nil {
			d.log.Warn().Err(err).Str("session", t.id).Msg("could not record session end")
		}
	}
}

// stopAll terminates every running session: graceful first, then forceful
// for whatever survives the grace period.
func (d *Daemon) stopAll() {
	running := d.registry.snapshot()
	if len(running) == 0 {
		return
	}

	for _, t := range running {
		t.child.Term()
	}
	time.Sleep(termGrace)

	for _, t := range d.registry.snapshot() {
		t.child.Kill()
		d.registry.remove(t.child.SubTask())
		if d.store != nil {
			if err := d.store.RecordEnd(t.id, db.StatusKilled); err != nil {
				d.log.Warn().Err(err).Str("session", t.id).Msg("could not record session end")
			}
		}
	}
}
