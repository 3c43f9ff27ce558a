package cluster

import (
	"github.com/puzpuzpuz/xsync/v3"
	"sort"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// In-process network
// --------------------------------------------------------------------------

// Network connects LocalBus nodes living in the same process. It is used for tests and for
// running several hosts in one binary.
type Network struct {
	nodes *xsync.MapOf[string, *LocalBus]
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{nodes: xsync.NewMapOf[string, *LocalBus]()}
}

// Join adds a node with the given id to the network. An empty id generates one.
func (n *Network) Join(id string) (*LocalBus, error) {
	if id == "" {
		id = NewNodeID()
	}
	if err := ValidateNodeID(id); err != nil {
		return nil, err
	}

	metrics := newBusMetrics()
	b := &LocalBus{
		id:      id,
		network: n,
		metrics: metrics,
		inbox:   newInbox(metrics),
	}
	if _, loaded := n.nodes.LoadOrStore(id, b); loaded {
		b.inbox.close()
		metrics.stop()
		return nil, ErrNodeExists
	}
	log.Infof("node %s joined the local network", id)
	return b, nil
}

// --------------------------------------------------------------------------
// LocalBus
// --------------------------------------------------------------------------

// LocalBus is a Bus whose peers are the other nodes of a Network.
type LocalBus struct {
	id      string
	network *Network
	metrics *busMetrics
	inbox   *inbox
	closed  atomic.Bool
}

func (b *LocalBus) ID() string { return b.id }

func (b *LocalBus) Nodes() []string {
	ids := make([]string, 0, b.network.nodes.Size())
	b.network.nodes.Range(func(id string, _ *LocalBus) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

func (b *LocalBus) Send(target string, msgType uint8, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	peer, ok := b.network.nodes.Load(target)
	if !ok || target == b.id {
		return ErrUnknownNode
	}
	b.deliverTo(peer, msgType, payload)
	return nil
}

func (b *LocalBus) Broadcast(msgType uint8, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.network.nodes.Range(func(id string, peer *LocalBus) bool {
		if id != b.id {
			b.deliverTo(peer, msgType, payload)
		}
		return true
	})
	return nil
}

// deliverTo copies payload into the inbox of peer.
func (b *LocalBus) deliverTo(peer *LocalBus, msgType uint8, payload []byte) {
	msg := Message{Sender: b.id, Type: msgType, Payload: append([]byte(nil), payload...)}
	if !peer.inbox.push(msg) {
		b.metrics.dropped.Inc(1)
		return
	}
	b.metrics.sent.Mark(1)
}

func (b *LocalBus) SetHandler(h Handler) {
	b.inbox.setHandler(h)
}

// Stats returns the meters of this node.
func (b *LocalBus) Stats() Stats {
	return b.metrics.stats()
}

func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.network.nodes.Delete(b.id)
	b.inbox.close()
	b.metrics.stop()
	log.Infof("node %s left the local network", b.id)
	return nil
}
