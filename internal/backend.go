package internal

import (
	"context"

	"github.com/voyeger/meshchat/internal/core/session"
)

// Backend is an interface for a sub-server that handles a specific set of
// client interactions over the shared line-frame transport.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// Register adds a newly accepted session to whatever registry the
	// backend keeps. It is called exactly once per connection, before any
	// frames are handled.
	Register(s *session.Session)

	// Handshake performs any connection initialization necessary to begin
	// communicating with the client, such as sending a prompt frame.
	Handshake(s *session.Session) error

	// Handle is the main entry point for processing client frames. line is
	// one frame with its trailing newline already stripped. Returning
	// session.ErrClosed ends the session cleanly.
	Handle(ctx context.Context, s *session.Session, line string) error

	// Deregister removes a session from the backend's registry. The
	// frontend guarantees it is called exactly once per connection, after
	// the read loop has ended and regardless of how it ended.
	Deregister(s *session.Session)
}
