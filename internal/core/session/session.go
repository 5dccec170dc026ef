package session

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
)

// ErrClosed is returned by backend handlers when the client has ended the
// session at the protocol level (LEAVE, DISCONNECT) and the connection should
// be torn down without logging an error.
var ErrClosed = errors.New("session closed")

// Session represents one live client connection to any of the chat servers.
//
// Reads are performed by the owning frontend's connection goroutine; writes
// go through a buffered outbound channel drained by a dedicated writer
// goroutine so that one stalled reader can never block a broadcast to the
// remaining recipients.
type Session struct {
	connection net.Conn
	ipAddr     string
	port       string

	// Username is set once when the client joins or registers and is
	// immutable for the rest of the session.
	Username string
	// Room is only used by the room server flavor.
	Room string

	out     chan string
	done    chan struct{}
	dropped func()

	closeOnce sync.Once
}

// NewSession wraps a connection and starts its outbound writer goroutine.
// bufferSize bounds the number of outbound frames queued before Send starts
// dropping them; onDrop (optional) is invoked once per dropped frame.
func NewSession(connection net.Conn, bufferSize int, onDrop func()) *Session {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	addr := connection.RemoteAddr().String()
	ipAddr, port := addr, ""
	if i := strings.LastIndex(addr, ":"); i != -1 {
		ipAddr, port = addr[:i], addr[i+1:]
	}

	s := &Session{
		connection: connection,
		ipAddr:     ipAddr,
		port:       port,
		out:        make(chan string, bufferSize),
		done:       make(chan struct{}),
		dropped:    onDrop,
	}
	go s.writeLoop()
	return s
}

func (s *Session) IPAddr() string { return s.ipAddr }
func (s *Session) Port() string   { return s.port }

// Read consumes the available bytes directly from the client's connection.
func (s *Session) Read(b []byte) (int, error) {
	return s.connection.Read(b)
}

// Send enqueues one frame for delivery to the client. Delivery is
// best-effort: if the session's buffer is full or the session has been
// closed, the frame is dropped.
func (s *Session) Send(frame string) {
	select {
	case <-s.done:
	case s.out <- frame:
	default:
		if s.dropped != nil {
			s.dropped()
		}
	}
}

// Close shuts down the connection and stops the writer goroutine. Safe to
// call more than once; only the first call has any effect.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.connection.Close()
	})
	return err
}

// writeLoop drains the outbound channel onto the connection, appending the
// frame-terminating newline. A write error ends the loop; the read side will
// observe the broken connection and tear the session down.
func (s *Session) writeLoop() {
	w := bufio.NewWriter(s.connection)
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if _, err := w.WriteString(frame + "\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}
