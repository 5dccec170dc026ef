// Package room implements the chat room server flavor. All clients of one
// server share a single broadcast set; every locally originated broadcast is
// additionally forwarded one hop to each mesh sibling.
package room

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/core/session"
	"github.com/voyeger/meshchat/internal/proto"
)

// Forwarder propagates a locally originated broadcast to the mesh siblings.
// It is satisfied by mesh.Coordinator.
type Forwarder interface {
	Forward(payload string)
}

// Server is the room chat backend for a single node of the mesh.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger

	// Mesh forwards local broadcasts to the sibling servers. Nil means the
	// node is not part of a mesh and broadcasts stay local.
	Mesh Forwarder

	roster *roster
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	s.roster = newRoster()
	return nil
}

// Register adds the session to the broadcast set. Clients receive broadcasts
// from the moment they connect, before sending any JOIN frame.
//
// Inbound mesh links are registered here too, until their SERVER_JOIN
// handshake frame is handled. A frame broadcast inside that window is
// written down the link and ignored; the dialing side never reads from its
// end of the connection.
func (s *Server) Register(c *session.Session) {
	s.roster.add(c)
}

// Handshake is a no-op; room clients speak first.
func (s *Server) Handshake(*session.Session) error {
	return nil
}

func (s *Server) Handle(_ context.Context, c *session.Session, line string) error {
	frame := proto.Parse(line)
	core.FramesTotal.WithLabelValues(s.Name, frame.Verb).Inc()

	switch frame.Verb {
	case proto.VerbJoin:
		// Requires exactly username and room; a malformed frame is dropped
		// without an error reply for client compatibility.
		fields, ok := frame.ExactFields(2)
		if !ok {
			s.Logger.Debugf("[%s] ignoring malformed JOIN frame: %s", s.Name, line)
			return nil
		}
		c.Username, c.Room = fields[0], fields[1]
		s.broadcast(proto.Marshal(proto.VerbUserJoin, c.Username, c.Room), c)
		s.Logger.Infof("[%s] %s joined room %s", s.Name, c.Username, c.Room)

	case proto.VerbMessage, proto.VerbFile:
		// The payload is opaque; it is broadcast verbatim.
		s.broadcast(line, c)

	case proto.VerbLeave:
		s.broadcast(proto.Marshal(proto.VerbUserLeave, c.Username), c)
		s.Logger.Infof("[%s] %s left the room", s.Name, c.Username)
		return session.ErrClosed

	case proto.VerbServerJoin:
		// A sibling server opened a mesh link. Drop it from the client
		// broadcast set; relay traffic is delivered explicitly.
		s.roster.remove(c)
		s.Logger.Infof("[%s] mesh link established from %s", s.Name, frame.Payload)

	case proto.VerbRelay:
		origin, payload, ok := frame.CutPayload()
		if !ok {
			s.Logger.Debugf("[%s] ignoring malformed RELAY frame: %s", s.Name, line)
			return nil
		}
		s.ReceiveFromSibling(payload, origin)

	default:
		s.Logger.Debugf("[%s] ignoring unknown frame verb %q", s.Name, frame.Verb)
	}

	return nil
}

// Deregister removes the session from the broadcast set. Called exactly once
// per connection by the frontend, whether the session ended with LEAVE, EOF,
// or a socket error.
func (s *Server) Deregister(c *session.Session) {
	s.roster.remove(c)
	s.Logger.Infof("[%s] client removed, remaining clients: %d", s.Name, s.roster.len())
}

// broadcast delivers a frame to every local session except the originator,
// then forwards it once to each mesh sibling. Per-recipient delivery is
// best-effort and isolated; see session.Send.
func (s *Server) broadcast(frame string, origin *session.Session) {
	for _, member := range s.roster.snapshot() {
		if member != origin {
			member.Send(frame)
		}
	}

	if s.Mesh != nil {
		s.Mesh.Forward(frame)
	}
}

// ReceiveFromSibling delivers a frame forwarded by another server to every
// local session. The frame is never re-forwarded: under the complete mesh
// wired at bootstrap, one hop from the origin already reaches every node.
func (s *Server) ReceiveFromSibling(frame, originServer string) {
	s.Logger.Debugf("[%s] relay from %s: %s", s.Name, originServer, frame)

	for _, member := range s.roster.snapshot() {
		member.Send(frame)
	}
}
