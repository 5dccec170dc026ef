package private

import (
	"net"
	"testing"

	"github.com/go-test/deep"

	"github.com/voyeger/meshchat/internal/core/session"
)

func newDirectorySession(t *testing.T) *session.Session {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	s := session.NewSession(serverEnd, 8, nil)
	t.Cleanup(func() {
		s.Close()
		clientEnd.Close()
	})
	return s
}

func TestDirectory_PutGetRemove(t *testing.T) {
	d := newDirectory()
	alice := newDirectorySession(t)

	d.put("alice", alice)
	if got, ok := d.get("alice"); !ok || got != alice {
		t.Fatal("expected alice to be registered")
	}

	if !d.removeIfOwner("alice", alice) {
		t.Error("expected removeIfOwner to remove the owning session")
	}
	if _, ok := d.get("alice"); ok {
		t.Error("expected alice to be gone after removal")
	}
}

func TestDirectory_DuplicateRegistrationTakesOver(t *testing.T) {
	d := newDirectory()
	first := newDirectorySession(t)
	second := newDirectorySession(t)

	d.put("alice", first)
	d.put("alice", second)

	if got, _ := d.get("alice"); got != second {
		t.Fatal("expected the second registration to own the username")
	}

	// The orphaned first session's departure must not evict the new owner.
	if d.removeIfOwner("alice", first) {
		t.Error("removeIfOwner removed an entry the session no longer owns")
	}
	if got, ok := d.get("alice"); !ok || got != second {
		t.Error("expected the second registration to survive the orphan's departure")
	}
}

func TestDirectory_OthersOf(t *testing.T) {
	d := newDirectory()
	for _, name := range []string{"carol", "alice", "bob"} {
		d.put(name, newDirectorySession(t))
	}

	if diff := deep.Equal([]string{"alice", "carol"}, d.othersOf("bob")); diff != nil {
		t.Errorf("othersOf(bob) mismatch: %v", diff)
	}
	if diff := deep.Equal([]string{"alice", "bob", "carol"}, d.othersOf("someone-else")); diff != nil {
		t.Errorf("othersOf(someone-else) mismatch: %v", diff)
	}
}
