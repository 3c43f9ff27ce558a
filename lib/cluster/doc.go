// Package cluster provides the message bus that carries module cluster messages between
// host nodes.
//
// Every node has a 40 character hex id (NewNodeID). A Bus sends typed messages to one node
// (Send) or to all other nodes (Broadcast) and hands received messages to a single Handler:
//
//   - LocalBus: nodes of an in-process Network. Used in tests and when several hosts share
//     one binary.
//   - TCPBus: nodes connected over TCP. Each node listens for inbound connections and
//     writes to every configured peer over its own outbound connection. Messages are
//     framed as sender id, type and length-prefixed payload.
//
// Delivery:
//   - Send and Broadcast only queue; they fail when the target is unknown, the bus is
//     closed or the peer queue is full. Sending to the local node fails like sending to an
//     unknown node.
//   - Received messages pass through a lock-free MPSC inbox (util.LockFreeMPSC) and reach
//     the handler one at a time, in order per sender.
//   - Messages that arrive while no handler is installed are dropped.
//
// Each bus keeps go-metrics meters for sent, received and dropped messages (Stats).
package cluster
