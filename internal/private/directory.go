package private

import (
	"sort"
	"sync"

	"github.com/voyeger/meshchat/internal/core/session"
)

// directory is a concurrency-safe map from username to the session that
// currently owns it. Usernames are case-sensitive and the last registrant
// wins: re-registering a name silently repoints it at the new session.
type directory struct {
	sync.RWMutex
	users map[string]*session.Session
}

func newDirectory() *directory {
	return &directory{users: make(map[string]*session.Session)}
}

func (d *directory) put(username string, s *session.Session) {
	d.Lock()
	d.users[username] = s
	d.Unlock()
}

func (d *directory) get(username string) (*session.Session, bool) {
	d.RLock()
	defer d.RUnlock()
	s, ok := d.users[username]
	return s, ok
}

// removeIfOwner deletes the entry only if it still points at the departing
// session. This keeps the directory consistent when a duplicate registration
// has taken over the name: the orphaned session's disconnect must not evict
// the current owner.
func (d *directory) removeIfOwner(username string, s *session.Session) bool {
	d.Lock()
	defer d.Unlock()

	if owner, ok := d.users[username]; ok && owner == s {
		delete(d.users, username)
		return true
	}
	return false
}

// snapshot returns the registered sessions keyed by username.
func (d *directory) snapshot() map[string]*session.Session {
	d.RLock()
	defer d.RUnlock()

	users := make(map[string]*session.Session, len(d.users))
	for name, s := range d.users {
		users[name] = s
	}
	return users
}

// othersOf returns the sorted usernames currently online, excluding the
// given one.
func (d *directory) othersOf(username string) []string {
	d.RLock()
	defer d.RUnlock()

	others := make([]string, 0, len(d.users))
	for name := range d.users {
		if name != username {
			others = append(others, name)
		}
	}
	sort.Strings(others)
	return others
}
