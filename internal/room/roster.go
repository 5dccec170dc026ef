package room

import (
	"sync"

	"github.com/voyeger/meshchat/internal/core/session"
)

// A concurrency-safe set of the sessions connected to one room server.
// Iteration order is unspecified; broadcast delivery order carries no
// guarantee.
type roster struct {
	sync.RWMutex
	sessions map[*session.Session]struct{}
}

func newRoster() *roster {
	return &roster{sessions: make(map[*session.Session]struct{})}
}

func (r *roster) add(s *session.Session) {
	r.Lock()
	r.sessions[s] = struct{}{}
	r.Unlock()
}

func (r *roster) remove(s *session.Session) {
	r.Lock()
	delete(r.sessions, s)
	r.Unlock()
}

// snapshot returns the current members so that broadcasts can iterate
// without holding the lock across socket writes.
func (r *roster) snapshot() []*session.Session {
	r.RLock()
	defer r.RUnlock()

	members := make([]*session.Session, 0, len(r.sessions))
	for s := range r.sessions {
		members = append(members, s)
	}
	return members
}

func (r *roster) len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.sessions)
}
