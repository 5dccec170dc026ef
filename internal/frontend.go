package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/core/session"
)

// frontend implements the concurrent client connection logic.
//
// Frames are read from any connected clients and passed to a backend
// instance, abstracting the lower level connection details away from the
// Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the
// Address provided to the frontend. Failure to bind is the only error in
// this server that is considered terminal.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s: %w", f.Address, err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[%s] waiting for connections on %v", f.Backend.Identifier(), socket.Addr())

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			connection, err := socket.AcceptTCP()
			if err != nil {
				select {
				case <-ctx.Done():
					// The listener was closed by the shutdown path.
					return
				default:
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
				return
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	_ = socket.Close()
	f.Logger.Infof("[%s] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%s] exited", f.Backend.Identifier())
}

// acceptClient takes a connection and attempts to initiate a session by
// registering it with the Backend and performing the protocol handshake. If
// that succeeds, the goroutine moves into the frame processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	s := session.NewSession(connection, f.Config.Session.OutboundBufferSize, func() {
		core.DroppedFramesTotal.WithLabelValues(f.Backend.Identifier()).Inc()
	})

	f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), s.IPAddr())

	f.Backend.Register(s)
	core.ConnectedSessions.WithLabelValues(f.Backend.Identifier()).Inc()

	if err := f.Backend.Handshake(s); err != nil {
		f.Logger.Errorf("Handshake() failed for client %s: %s", s.IPAddr(), err)
	}

	f.processFrames(ctx, s)
}

// processFrames starts a blocking loop dedicated to reading frames sent by a
// client and only returns once the connection has closed.
func (f *frontend) processFrames(ctx context.Context, s *session.Session) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), s)

	// Closing the session unblocks the read below so that shutdown never
	// deadlocks waiting on an idle or slow client.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	reader := bufio.NewReader(s)

	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		} else if err != nil {
			// The shutdown path closes sessions out from under their
			// readers; that is not a client fault worth a warning.
			if !errors.Is(err, net.ErrClosed) {
				f.Logger.Warnf("socket error (%s): %s", s.IPAddr(), err.Error())
			}
			break
		}

		line = strings.TrimRight(line, "\r\n")
		f.Logger.Debugf("[%s] received raw: %s", f.Backend.Identifier(), line)

		if err = f.Backend.Handle(ctx, s, line); err != nil {
			if !errors.Is(err, session.ErrClosed) {
				f.Logger.Warnf("error in client communication: %s", err.Error())
			}
			return
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics,
// disconnects the client, and removes it from the backend's registry
// regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, s *session.Session) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			s.IPAddr(), err, debug.Stack())
	}

	if err := s.Close(); err != nil {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.Backend.Deregister(s)
	core.ConnectedSessions.WithLabelValues(serverName).Dec()

	f.Logger.Infof("[%s] disconnected client %s", serverName, s.IPAddr())
}
