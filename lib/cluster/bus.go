package cluster

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("cluster")

// NodeIDLen is the length of a node id in hex characters
const NodeIDLen = 40

var (
	// ErrUnknownNode is returned when a message targets a node the bus does not know.
	ErrUnknownNode = errors.New("unknown cluster node")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("cluster bus closed")

	// ErrQueueFull is returned when a peer cannot take more outgoing messages.
	ErrQueueFull = errors.New("cluster send queue full")

	// ErrNodeExists is returned when a node id joins twice.
	ErrNodeExists = errors.New("cluster node already exists")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is one cluster message as delivered to the receiving node.
type Message struct {
	Sender  string
	Type    uint8
	Payload []byte
}

// Handler receives the messages of a bus. It is called from a single delivery goroutine,
// one message at a time.
type Handler func(msg Message)

// Bus connects a node to the other nodes of its cluster.
type Bus interface {
	// ID returns the id of the local node
	ID() string

	// Nodes returns the ids of all nodes, including the local one
	Nodes() []string

	// Send queues a message for one other node
	Send(target string, msgType uint8, payload []byte) error

	// Broadcast queues a message for every other node
	Broadcast(msgType uint8, payload []byte) error

	// SetHandler installs the receive handler; nil drops incoming messages
	SetHandler(h Handler)

	// Close stops delivery and releases network resources
	Close() error
}

// NewNodeID generates a random 40 character hex node id.
func NewNodeID() string {
	id := uuid.New()
	sum := sha1.Sum(id[:])
	return hex.EncodeToString(sum[:])
}

// ValidateNodeID checks that id has the node id format.
func ValidateNodeID(id string) error {
	if len(id) != NodeIDLen {
		return fmt.Errorf("node id %q must have %d characters", id, NodeIDLen)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return fmt.Errorf("node id %q is not hex encoded", id)
	}
	return nil
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// busMetrics holds the meters of one bus in its own registry.
type busMetrics struct {
	registry gometrics.Registry
	sent     gometrics.Meter
	received gometrics.Meter
	dropped  gometrics.Counter
}

func newBusMetrics() *busMetrics {
	r := gometrics.NewRegistry()
	return &busMetrics{
		registry: r,
		sent:     gometrics.GetOrRegisterMeter("cluster.messages.sent", r),
		received: gometrics.GetOrRegisterMeter("cluster.messages.received", r),
		dropped:  gometrics.GetOrRegisterCounter("cluster.messages.dropped", r),
	}
}

func (m *busMetrics) stop() {
	m.sent.Stop()
	m.received.Stop()
}

// Stats is a point in time view of the bus meters.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
}

func (m *busMetrics) stats() Stats {
	return Stats{
		Sent:     m.sent.Count(),
		Received: m.received.Count(),
		Dropped:  m.dropped.Count(),
	}
}
