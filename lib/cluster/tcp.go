package cluster

import (
	"errors"
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// TCPConfig configures a TCPBus
type TCPConfig struct {
	ID          string            // Node id of this node (empty = generate)
	ListenAddr  string            // Address to accept peer connections on
	Peers       map[string]string // Node id -> address of the other nodes
	DialTimeout time.Duration     // Timeout for connecting to a peer (0 = 2s)
	QueueSize   int               // Outgoing messages buffered per peer (0 = 1024)
}

const (
	defaultDialTimeout = 2 * time.Second
	defaultQueueSize   = 1024
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// outgoing is one queued message
type outgoing struct {
	msgType uint8
	payload []byte
}

// peer is the outbound side of one remote node. A writer goroutine owns the connection and
// reconnects lazily after failures.
type peer struct {
	id    string
	addr  string
	queue chan outgoing
	conn  net.Conn
}

// --------------------------------------------------------------------------
// TCPBus
// --------------------------------------------------------------------------

// TCPBus is a Bus over TCP. Every node listens for inbound connections and keeps one
// outbound connection per peer, so each connection carries messages in one direction.
type TCPBus struct {
	id          string
	listener    net.Listener
	peers       *xsync.MapOf[string, *peer]
	inbox       *inbox
	metrics     *busMetrics
	dialTimeout time.Duration

	closed  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	connsMu sync.Mutex
	conns   map[net.Conn]struct{} // inbound connections
}

// NewTCPBus starts listening on config.ListenAddr and starts one writer per peer.
func NewTCPBus(config TCPConfig) (*TCPBus, error) {
	if config.ID == "" {
		config.ID = NewNodeID()
	}
	if err := ValidateNodeID(config.ID); err != nil {
		return nil, err
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}

	listener, err := net.Listen("tcp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %v", err)
	}

	metrics := newBusMetrics()
	b := &TCPBus{
		id:          config.ID,
		listener:    listener,
		peers:       xsync.NewMapOf[string, *peer](),
		inbox:       newInbox(metrics),
		metrics:     metrics,
		dialTimeout: config.DialTimeout,
		stopCh:      make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
	}

	for id, addr := range config.Peers {
		if id == config.ID {
			continue
		}
		if err := ValidateNodeID(id); err != nil {
			_ = b.Close()
			return nil, err
		}
		p := &peer{id: id, addr: addr, queue: make(chan outgoing, config.QueueSize)}
		b.peers.Store(id, p)
		b.wg.Add(1)
		go b.writeLoop(p)
	}

	b.wg.Add(1)
	go b.acceptLoop()

	log.Infof("cluster bus of node %s listening on %s with %d peers", b.id, listener.Addr(), b.peers.Size())
	return b, nil
}

// Addr returns the listen address.
func (b *TCPBus) Addr() net.Addr {
	return b.listener.Addr()
}

func (b *TCPBus) ID() string { return b.id }

func (b *TCPBus) Nodes() []string {
	ids := []string{b.id}
	b.peers.Range(func(id string, _ *peer) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

func (b *TCPBus) Send(target string, msgType uint8, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	p, ok := b.peers.Load(target)
	if !ok {
		return ErrUnknownNode
	}
	return b.enqueue(p, msgType, payload)
}

func (b *TCPBus) Broadcast(msgType uint8, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	var firstErr error
	b.peers.Range(func(_ string, p *peer) bool {
		if err := b.enqueue(p, msgType, payload); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func (b *TCPBus) enqueue(p *peer, msgType uint8, payload []byte) error {
	msg := outgoing{msgType: msgType, payload: append([]byte(nil), payload...)}
	select {
	case p.queue <- msg:
		return nil
	default:
		b.metrics.dropped.Inc(1)
		return ErrQueueFull
	}
}

func (b *TCPBus) SetHandler(h Handler) {
	b.inbox.setHandler(h)
}

// Stats returns the meters of this node.
func (b *TCPBus) Stats() Stats {
	return b.metrics.stats()
}

func (b *TCPBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopCh)
	err := b.listener.Close()

	b.connsMu.Lock()
	for conn := range b.conns {
		_ = conn.Close()
	}
	b.connsMu.Unlock()

	b.wg.Wait()
	b.inbox.close()
	b.metrics.stop()
	log.Infof("cluster bus of node %s closed", b.id)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeLoop sends the queued messages of one peer until the bus is closed. Messages that
// cannot be written are dropped.
func (b *TCPBus) writeLoop(p *peer) {
	defer b.wg.Done()
	defer func() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
	}()

	for {
		select {
		case <-b.stopCh:
			return
		case msg := <-p.queue:
			if err := b.write(p, msg); err != nil {
				b.metrics.dropped.Inc(1)
				log.Warningf("failed to send message type %d to %s (%s): %v", msg.msgType, p.id, p.addr, err)
				continue
			}
			b.metrics.sent.Mark(1)
		}
	}
}

// write sends msg over the peer connection, dialing if needed. A broken connection is
// redialed once.
func (b *TCPBus) write(p *peer, msg outgoing) error {
	for attempt := 0; attempt < 2; attempt++ {
		if p.conn == nil {
			conn, err := net.DialTimeout("tcp", p.addr, b.dialTimeout)
			if err != nil {
				return err
			}
			p.conn = conn
		}
		err := writeFrame(p.conn, b.id, msg.msgType, msg.payload)
		if err == nil {
			return nil
		}
		_ = p.conn.Close()
		p.conn = nil
		if attempt == 1 {
			return err
		}
	}
	return nil
}

func (b *TCPBus) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if b.closed.Load() {
				return
			}
			log.Errorf("accept error: %v", err)
			continue
		}

		b.connsMu.Lock()
		if b.closed.Load() {
			b.connsMu.Unlock()
			_ = conn.Close()
			return
		}
		b.conns[conn] = struct{}{}
		b.connsMu.Unlock()

		b.wg.Add(1)
		go b.readLoop(conn)
	}
}

// readLoop reads the frames of one inbound connection into the inbox.
func (b *TCPBus) readLoop(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.connsMu.Lock()
		delete(b.conns, conn)
		b.connsMu.Unlock()
		_ = conn.Close()
	}()

	header := make([]byte, frameHeaderLen)
	for {
		msg, err := readFrame(conn, header)
		if err != nil {
			if errors.Is(err, io.EOF) || b.closed.Load() {
				return
			}
			log.Errorf("error reading from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if !b.inbox.push(msg) {
			return
		}
	}
}
