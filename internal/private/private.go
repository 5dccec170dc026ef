// Package private implements the one-to-one chat server flavor: a single
// rendezvous server that tracks online usernames and relays directed
// messages between them.
package private

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/core/session"
	"github.com/voyeger/meshchat/internal/proto"
)

// Server is the private chat backend.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger

	directory *directory
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	s.directory = newDirectory()
	return nil
}

// Register is a no-op: the directory is keyed by username, which the client
// has not supplied yet at accept time.
func (s *Server) Register(*session.Session) {}

// Handshake prompts the client for its username; the next line received is
// taken as the username verbatim.
func (s *Server) Handshake(c *session.Session) error {
	c.Send(proto.VerbEnterUsername)
	return nil
}

func (s *Server) Handle(_ context.Context, c *session.Session, line string) error {
	if c.Username == "" {
		return s.registerUsername(c, line)
	}

	frame := proto.Parse(line)
	core.FramesTotal.WithLabelValues(s.Name, frame.Verb).Inc()

	switch frame.Verb {
	case proto.VerbPrivate:
		recipient, text, ok := frame.CutPayload()
		if !ok {
			s.Logger.Debugf("[%s] ignoring malformed PRIVATE frame from %s", s.Name, c.Username)
			return nil
		}
		s.sendPrivateMessage(c, recipient, text)

	case proto.VerbGetUsers:
		c.Send(s.usersFrame(c.Username))

	case proto.VerbDisconnect:
		return session.ErrClosed

	default:
		s.Logger.Debugf("[%s] ignoring unknown frame verb %q from %s", s.Name, frame.Verb, c.Username)
	}

	return nil
}

// Deregister removes the session's username from the directory, unless a
// duplicate registration has already taken the name over, and announces the
// updated user list.
func (s *Server) Deregister(c *session.Session) {
	if c.Username == "" {
		return
	}
	if s.directory.removeIfOwner(c.Username, c) {
		s.Logger.Infof("[%s] user disconnected: %s", s.Name, c.Username)
		s.broadcastOnlineUsers()
	}
}

// registerUsername handles the client's reply to ENTER_USERNAME. The line is
// used verbatim as the username; a blank reply ends the session. A duplicate
// username silently takes over the directory entry from its previous owner.
func (s *Server) registerUsername(c *session.Session, line string) error {
	if strings.TrimSpace(line) == "" {
		return session.ErrClosed
	}

	c.Username = line
	s.directory.put(c.Username, c)

	c.Send(proto.Marshal(proto.VerbSuccess, "Connected as "+c.Username))
	s.Logger.Infof("[%s] user registered: %s", s.Name, c.Username)

	s.broadcastOnlineUsers()
	return nil
}

func (s *Server) sendPrivateMessage(sender *session.Session, recipient, text string) {
	target, online := s.directory.get(recipient)
	if !online {
		sender.Send(proto.Marshal(proto.VerbError, "User "+recipient+" is not online"))
		return
	}

	target.Send(proto.Marshal(proto.VerbMessage, sender.Username, text))
	sender.Send(proto.Marshal(proto.VerbSent, recipient, text))
	s.Logger.Debugf("[%s] message sent from %s to %s", s.Name, sender.Username, recipient)
}

// usersFrame builds the USERS reply for one recipient, excluding its own
// name from the list.
func (s *Server) usersFrame(username string) string {
	return proto.Marshal(proto.VerbUsers, strings.Join(s.directory.othersOf(username), ","))
}

// broadcastOnlineUsers pushes the updated online-user list to every
// registered session, each excluding its own name.
func (s *Server) broadcastOnlineUsers() {
	for username, c := range s.directory.snapshot() {
		c.Send(s.usersFrame(username))
	}
}
