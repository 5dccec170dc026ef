package internal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/mesh"
	"github.com/voyeger/meshchat/internal/private"
	"github.com/voyeger/meshchat/internal/room"
)

func testConfig() *core.Config {
	cfg := &core.Config{Hostname: "127.0.0.1"}
	cfg.Session.OutboundBufferSize = 64
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// reservePorts asks the OS for n free loopback ports. The listeners are
// closed before the ports are handed back, so the frontends can bind them.
func reservePorts(t *testing.T, n int) []string {
	t.Helper()

	addrs := make([]string, n)
	listeners := make([]net.Listener, n)
	for i := 0; i < n; i++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		listeners[i] = listener
		addrs[i] = listener.Addr().String()
	}
	for _, listener := range listeners {
		listener.Close()
	}
	return addrs
}

// startRoomMesh starts n room servers wired to each other as a complete mesh
// and returns their client-facing addresses.
func startRoomMesh(t *testing.T, ctx context.Context, wg *sync.WaitGroup, n int) []string {
	t.Helper()

	cfg := testConfig()
	logger := testLogger()
	addrs := reservePorts(t, n)

	for i, addr := range addrs {
		var siblings []string
		for j, sibling := range addrs {
			if j != i {
				siblings = append(siblings, sibling)
			}
		}

		name := fmt.Sprintf("Server-%d", i+1)
		coordinator := mesh.NewCoordinator(name, siblings, logger)
		t.Cleanup(coordinator.Close)

		f := &frontend{
			Address: addr,
			Config:  cfg,
			Logger:  logger,
			Backend: &room.Server{
				Name:   name,
				Config: cfg,
				Logger: logger,
				Mesh:   coordinator,
			},
		}
		if err := f.Start(ctx, wg); err != nil {
			t.Fatalf("failed to start %s: %v", name, err)
		}
	}

	for _, addr := range addrs {
		waitForListener(t, addr)
	}
	return addrs
}

// waitForListener blocks until the address accepts connections.
func waitForListener(t *testing.T, addr string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on %s never began listening", addr)
}

type chatClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialClient(t *testing.T, addr string) *chatClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &chatClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *chatClient) sendFrame(t *testing.T, frame string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(frame + "\n")); err != nil {
		t.Fatalf("failed to send %q: %v", frame, err)
	}
}

func (c *chatClient) expectFrame(t *testing.T, expected string) {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("expected frame %q, read failed: %v", expected, err)
	}
	if got := strings.TrimRight(line, "\r\n"); got != expected {
		t.Errorf("received %q, want %q", got, expected)
	}
}

func (c *chatClient) expectNoFrame(t *testing.T) {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if line, err := c.reader.ReadString('\n'); err == nil {
		t.Errorf("expected no frame, received %q", line)
	}
}

// TestRoomMesh_CrossServerBroadcast is the full three-node scenario: a
// message sent on one server reaches the clients of every server exactly
// once and is never echoed back to the sender.
func TestRoomMesh_CrossServerBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	addrs := startRoomMesh(t, ctx, wg, 3)

	y := dialClient(t, addrs[0])
	z2 := dialClient(t, addrs[1])
	z3 := dialClient(t, addrs[2])

	x := dialClient(t, addrs[0])
	x.sendFrame(t, "JOIN:X:trip1")
	for _, c := range []*chatClient{y, z2, z3} {
		c.expectFrame(t, "USER_JOIN:X:trip1")
	}

	x.sendFrame(t, "MESSAGE:X:hello")
	for _, c := range []*chatClient{y, z2, z3} {
		c.expectFrame(t, "MESSAGE:X:hello")
	}

	// Exactly once: no duplicates arrive on any client, and the origin never
	// sees its own message replayed.
	for _, c := range []*chatClient{x, y, z2, z3} {
		c.expectNoFrame(t)
	}

	x.sendFrame(t, "LEAVE:X")
	for _, c := range []*chatClient{y, z2, z3} {
		c.expectFrame(t, "USER_LEAVE:X")
	}

	cancel()
	wg.Wait()
}

func TestRoomMesh_MalformedJoinIsIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	addrs := startRoomMesh(t, ctx, wg, 2)

	observer := dialClient(t, addrs[0])
	sender := dialClient(t, addrs[0])

	sender.sendFrame(t, "JOIN:only-one-field")
	observer.expectNoFrame(t)
	sender.expectNoFrame(t)

	// The session is still usable afterward.
	sender.sendFrame(t, "JOIN:X:trip1")
	observer.expectFrame(t, "USER_JOIN:X:trip1")

	cancel()
	wg.Wait()
}

func TestPrivateServer_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	cfg := testConfig()
	logger := testLogger()
	addr := reservePorts(t, 1)[0]

	f := &frontend{
		Address: addr,
		Config:  cfg,
		Logger:  logger,
		Backend: &private.Server{Name: "PRIVATE", Config: cfg, Logger: logger},
	}
	if err := f.Start(ctx, wg); err != nil {
		t.Fatalf("failed to start private server: %v", err)
	}
	waitForListener(t, addr)

	a := dialClient(t, addr)
	a.expectFrame(t, "ENTER_USERNAME")
	a.sendFrame(t, "a")
	a.expectFrame(t, "SUCCESS:Connected as a")
	a.expectFrame(t, "USERS:")

	b := dialClient(t, addr)
	b.expectFrame(t, "ENTER_USERNAME")
	b.sendFrame(t, "b")
	b.expectFrame(t, "SUCCESS:Connected as b")
	b.expectFrame(t, "USERS:a")
	a.expectFrame(t, "USERS:b")

	a.sendFrame(t, "PRIVATE:b:yo")
	b.expectFrame(t, "MESSAGE:a:yo")
	a.expectFrame(t, "SENT:b:yo")

	a.sendFrame(t, "GET_USERS")
	a.expectFrame(t, "USERS:b")

	b.sendFrame(t, "DISCONNECT")
	a.expectFrame(t, "USERS:")

	a.sendFrame(t, "PRIVATE:b:still there?")
	a.expectFrame(t, "ERROR:User b is not online")

	cancel()
	wg.Wait()
}

// syncBuffer collects log output safely across the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestShutdown_ClosedSessionsAreNotLoggedAsWarnings verifies that tearing
// down idle sessions on graceful shutdown does not produce per-client socket
// error warnings.
func TestShutdown_ClosedSessionsAreNotLoggedAsWarnings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}

	logBuf := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logBuf)

	cfg := testConfig()
	addr := reservePorts(t, 1)[0]
	f := &frontend{
		Address: addr,
		Config:  cfg,
		Logger:  logger,
		Backend: &room.Server{Name: "Server-1", Config: cfg, Logger: logger},
	}
	if err := f.Start(ctx, wg); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	waitForListener(t, addr)

	dialClient(t, addr)

	// Wait for the server side to have picked up the connection.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logBuf.String(), "accepted connection") {
		if time.Now().After(deadline) {
			t.Fatal("server never logged the accepted connection")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	wg.Wait()

	if logs := logBuf.String(); strings.Contains(logs, "socket error") {
		t.Errorf("graceful shutdown logged socket errors:\n%s", logs)
	}
}

// TestShutdown_DoesNotDeadlockOnIdleClients cancels the server context while
// clients are connected and idle; the frontends must still exit promptly.
func TestShutdown_DoesNotDeadlockOnIdleClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	addrs := startRoomMesh(t, ctx, wg, 2)
	dialClient(t, addrs[0])
	dialClient(t, addrs[1])

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("servers did not shut down within the timeout")
	}
}
