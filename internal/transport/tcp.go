package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// maxFrameSize bounds a single message's length prefix, rejecting a
// corrupt or adversarial frame header before allocating a buffer for it.
const maxFrameSize = 64 << 20

// TCPTransport implements Transport over one long-lived TCP connection per
// peer pair, framing every message with a 4-byte big-endian length prefix
// ahead of the message.Prepare envelope. Each peer gets a bounded outbound
// channel (its high-water mark is backpressure_highwater from
// internal/config) drained by one writer goroutine, so a slow or wedged
// peer cannot grow unbounded memory on this side.
type TCPTransport struct {
	self       Location
	highwater  int
	log        *zap.Logger

	mu       sync.Mutex
	peers    map[Location]*peerConn
	listener net.Listener
	closed   bool
}

type peerConn struct {
	loc      Location
	outbound chan []byte
	conn     net.Conn
	mu       sync.Mutex // guards conn, protects reconnect races
}

// NewTCPTransport builds a transport bound to self (the address other
// shards dial to reach this one), queuing up to highwater outbound frames
// per peer before Send returns ErrBackpressure.
func NewTCPTransport(self Location, highwater int, log *zap.Logger) *TCPTransport {
	if highwater <= 0 {
		highwater = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPTransport{
		self:      self,
		highwater: highwater,
		log:       log,
		peers:     make(map[Location]*peerConn),
	}
}

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *TCPTransport) peerFor(to Location) *peerConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[to]; ok {
		return p
	}
	p := &peerConn{loc: to, outbound: make(chan []byte, t.highwater)}
	t.peers[to] = p
	go t.writeLoop(p)
	return p
}

func (t *TCPTransport) writeLoop(p *peerConn) {
	for payload := range p.outbound {
		conn, err := t.dial(p)
		if err != nil {
			t.log.Warn("transport: dial failed, dropping frame", zap.String("peer", p.loc.String()), zap.Error(err))
			continue
		}
		if _, err := conn.Write(frame(payload)); err != nil {
			t.log.Warn("transport: write failed, will redial", zap.String("peer", p.loc.String()), zap.Error(err))
			p.mu.Lock()
			if p.conn == conn {
				conn.Close()
				p.conn = nil
			}
			p.mu.Unlock()
		}
	}
}

func (t *TCPTransport) dial(p *peerConn) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := net.Dial("tcp", p.loc.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerDown, err)
	}
	p.conn = conn
	return conn, nil
}

// Send implements Transport.
func (t *TCPTransport) Send(to Location, payload []byte) error {
	p := t.peerFor(to)
	select {
	case p.outbound <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

// Serve implements Transport, accepting connections on self's address and
// invoking handler once per frame received.
func (t *TCPTransport) Serve(handler Handler) error {
	ln, err := net.Listen("tcp", t.self.String())
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go t.readLoop(conn, handler)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn, handler Handler) {
	defer conn.Close()
	from := Location{Host: addrHost(conn.RemoteAddr())}
	for {
		payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.log.Debug("transport: read loop ended", zap.Error(err))
			}
			return
		}
		handler(from, payload)
	}
}

func addrHost(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// Close implements Transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	ln := t.listener
	peers := make([]*peerConn, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		close(p.outbound)
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
