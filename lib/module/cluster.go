package module

import (
	"github.com/ValentinKolb/dkvmod/lib/raw"
)

// ClusterFlags configure how this node takes part in the cluster.
type ClusterFlags uint64

const (
	ClusterFlagNone          ClusterFlags = raw.ClusterFlagNone
	ClusterFlagNoFailover    ClusterFlags = raw.ClusterFlagNoFailover    // never promote this node
	ClusterFlagNoRedirection ClusterFlags = raw.ClusterFlagNoRedirection // serve every key locally
)

// ClusterReceiver handles an inbound cluster message. ctx is only valid during the call.
type ClusterReceiver func(ctx *Context, senderID string, msgType uint8, payload []byte)

// --------------------------------------------------------------------------
// Node list
// --------------------------------------------------------------------------

// ClusterNodeList is a snapshot of the node identifiers known to this node, itself
// included. It is released by Close or when the callback returns.
type ClusterNodeList struct {
	ctx    *Context
	ptr    raw.NodeListPtr
	closed bool
}

func (l *ClusterNodeList) release() {
	l.Close()
}

// Close releases the host list. Safe to call more than once.
func (l *ClusterNodeList) Close() {
	if l.closed {
		return
	}
	l.closed = true
	if l.ctx.valid {
		l.ctx.host.FreeClusterNodesList(l.ptr)
	}
}

func (l *ClusterNodeList) mustCheck() {
	l.ctx.mustCheck()
	if l.closed {
		panic("ERR cluster node list is closed")
	}
}

// Len returns the number of nodes.
func (l *ClusterNodeList) Len() int {
	l.mustCheck()
	return l.ctx.host.ClusterNodesListLen(l.ptr)
}

// At returns the identifier of the idx-th node.
func (l *ClusterNodeList) At(idx int) string {
	l.mustCheck()
	return l.ctx.host.ClusterNodesListAt(l.ptr, idx)
}

// IDs returns all identifiers.
func (l *ClusterNodeList) IDs() []string {
	n := l.Len()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = l.At(i)
	}
	return ids
}

// --------------------------------------------------------------------------
// Context cluster operations
// --------------------------------------------------------------------------

// ClusterNodes returns the known cluster nodes. The second result is false if clustering
// is disabled.
func (c *Context) ClusterNodes() (*ClusterNodeList, bool) {
	c.mustCheck()
	p := c.host.GetClusterNodesList(c.raw)
	if p == 0 {
		return nil, false
	}
	l := &ClusterNodeList{ctx: c, ptr: p}
	c.track(l)
	return l, true
}

// MyClusterID returns the identifier of this node. The second result is false if
// clustering is disabled.
func (c *Context) MyClusterID() (string, bool) {
	c.mustCheck()
	id := c.host.GetMyClusterID(c.raw)
	return id, id != ""
}

// SetClusterFlags sets the participation flags of this node.
func (c *Context) SetClusterFlags(flags ClusterFlags) {
	c.mustCheck()
	c.host.SetClusterFlags(c.raw, uint64(flags))
}

// RegisterClusterMessageReceiver installs cb for messages of msgType. A later
// registration for the same type replaces it; a nil cb removes it. cb runs inside the
// server loop with a context of its own.
func (c *Context) RegisterClusterMessageReceiver(msgType uint8, cb ClusterReceiver) {
	c.mustCheck()
	if cb == nil {
		c.host.RegisterClusterMessageReceiver(c.raw, msgType, nil)
		return
	}
	h := c.host
	c.host.RegisterClusterMessageReceiver(c.raw, msgType, func(rctx raw.Ctx, senderID string, t uint8, payload []byte) {
		ctx := newContext(h, rctx)
		defer ctx.release()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("cluster receiver for type %d panicked: %v", t, r)
			}
		}()
		cb(ctx, senderID, t, payload)
	})
}

// SendClusterMessage sends payload to the node target. Delivery is best effort; an error
// means the message could not be queued (clustering disabled, unknown target).
func (c *Context) SendClusterMessage(target string, msgType uint8, payload []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	if target == "" {
		return NewError(ErrCValidation, "ERR empty cluster node id")
	}
	return handleStatus(c.host.SendClusterMessage(c.raw, target, msgType, payload), "fail to send cluster message")
}

// SendClusterMessageAll sends payload to every other node.
func (c *Context) SendClusterMessageAll(msgType uint8, payload []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	return handleStatus(c.host.SendClusterMessage(c.raw, "", msgType, payload), "fail to send cluster message")
}
