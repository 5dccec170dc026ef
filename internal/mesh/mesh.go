// Package mesh implements one-hop broadcast propagation between the room
// servers. Each server holds a Coordinator wired with the addresses of every
// sibling; the topology is fixed at construction and assumed to be a
// complete graph, which is what makes single-hop forwarding sufficient.
package mesh

import (
	"bufio"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyeger/meshchat/internal/core"
	"github.com/voyeger/meshchat/internal/proto"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second

	// Frames queued per sibling link before forwards to it are dropped.
	linkBufferSize = 64
)

// Coordinator holds the fixed sibling list for one server node.
type Coordinator struct {
	origin string
	peers  []*peer
	logger *logrus.Logger
}

// NewCoordinator builds a coordinator for the server named origin, with one
// outbound link per sibling address. The peer list is immutable afterward.
func NewCoordinator(origin string, peerAddrs []string, logger *logrus.Logger) *Coordinator {
	c := &Coordinator{origin: origin, logger: logger}
	for _, addr := range peerAddrs {
		c.peers = append(c.peers, newPeer(origin, addr, logger))
	}
	return c
}

// Forward sends a locally originated broadcast to every sibling exactly
// once, in list order. Delivery is fire-and-forget: each link has its own
// writer goroutine and bounded queue, so a stalled or unreachable sibling
// can lose only its own frames, never delay the caller or delivery to the
// remaining siblings.
func (c *Coordinator) Forward(payload string) {
	for _, p := range c.peers {
		if !p.forward(payload) {
			core.RelayForwardsTotal.WithLabelValues(c.origin, "dropped").Inc()
			c.logger.Warnf("[%s] dropping forward to sibling %s: link queue full", c.origin, p.addr)
		}
	}
}

// Close stops the sibling link writer goroutines.
func (c *Coordinator) Close() {
	for _, p := range c.peers {
		close(p.done)
	}
}

// peer is one outbound mesh link, owned by its writer goroutine. The
// connection is dialed lazily on the first delivery and redialed on the
// delivery after a failure.
type peer struct {
	origin string
	addr   string
	logger *logrus.Logger

	out  chan string
	done chan struct{}
}

func newPeer(origin, addr string, logger *logrus.Logger) *peer {
	p := &peer{
		origin: origin,
		addr:   addr,
		logger: logger,
		out:    make(chan string, linkBufferSize),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// forward enqueues one payload for the link's writer goroutine. It never
// blocks; a full queue means the sibling is stalled and the frame is dropped.
func (p *peer) forward(payload string) bool {
	select {
	case p.out <- payload:
		return true
	default:
		return false
	}
}

// writeLoop owns the link connection: it dials lazily, announces this server
// so the sibling excludes the connection from its client broadcast set, and
// drops the link on any failure so the next payload redials.
func (p *peer) writeLoop() {
	var conn net.Conn
	var w *bufio.Writer

	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		select {
		case <-p.done:
			return
		case payload := <-p.out:
			if conn == nil {
				var err error
				if conn, w, err = p.dial(); err != nil {
					core.RelayForwardsTotal.WithLabelValues(p.origin, "error").Inc()
					p.logger.Warnf("[%s] failed to forward to sibling %s: %s", p.origin, p.addr, err)
					continue
				}
			}

			if err := writeFrame(conn, w, proto.Marshal(proto.VerbRelay, p.origin, payload)); err != nil {
				_ = conn.Close()
				conn, w = nil, nil
				core.RelayForwardsTotal.WithLabelValues(p.origin, "error").Inc()
				p.logger.Warnf("[%s] failed to forward to sibling %s: %s", p.origin, p.addr, err)
				continue
			}
			core.RelayForwardsTotal.WithLabelValues(p.origin, "ok").Inc()
		}
	}
}

func (p *peer) dial() (net.Conn, *bufio.Writer, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.Dial("tcp", p.addr)
	if err != nil {
		return nil, nil, err
	}

	w := bufio.NewWriter(conn)
	if err := writeFrame(conn, w, proto.Marshal(proto.VerbServerJoin, p.origin)); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, w, nil
}

// writeFrame writes one frame under a deadline so a sibling that stops
// reading fails the link instead of wedging its writer goroutine.
func writeFrame(conn net.Conn, w *bufio.Writer, frame string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := w.WriteString(frame + "\n"); err != nil {
		return err
	}
	return w.Flush()
}
