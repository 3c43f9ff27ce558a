package cluster

import (
	"github.com/ValentinKolb/dkvmod/lib/util"
	"sync/atomic"
)

// inbox queues incoming messages and hands them to the bus handler on one goroutine, in
// arrival order per sender.
type inbox struct {
	queue   *util.LockFreeMPSC[Message]
	handler atomic.Pointer[Handler]
	metrics *busMetrics
	done    chan struct{}
}

func newInbox(metrics *busMetrics) *inbox {
	in := &inbox{
		queue:   util.NewLockFreeMPSC[Message](),
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go in.deliver()
	return in
}

// push queues msg. Returns false once the inbox is closed.
func (in *inbox) push(msg Message) bool {
	return in.queue.Push(&msg)
}

func (in *inbox) setHandler(h Handler) {
	if h == nil {
		in.handler.Store(nil)
		return
	}
	in.handler.Store(&h)
}

func (in *inbox) deliver() {
	defer close(in.done)
	for msg := range in.queue.Recv() {
		h := in.handler.Load()
		if h == nil {
			in.metrics.dropped.Inc(1)
			log.Debugf("dropping message type %d from %s: no handler", msg.Type, msg.Sender)
			continue
		}
		in.metrics.received.Mark(1)
		(*h)(*msg)
	}
}

// close stops accepting messages and waits until the queued ones are delivered.
func (in *inbox) close() {
	in.queue.Close()
	<-in.done
}
