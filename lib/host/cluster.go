package host

import (
	"github.com/ValentinKolb/dkvmod/lib/cluster"
	"github.com/ValentinKolb/dkvmod/lib/raw"
)

// --------------------------------------------------------------------------
// Cluster messaging
// --------------------------------------------------------------------------

// receiver is a registered cluster message callback
type receiver struct {
	owner string
	cb    raw.ClusterMessageReceiver
}

// onClusterMessage is the bus handler. Messages are delivered inside the loop with a
// temporary context; effects the callback replicates are propagated like a command's.
func (s *Server) onClusterMessage(m cluster.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	rcv, ok := s.receivers.Load(m.Type)
	if !ok {
		log.Debugf("no receiver for cluster message type %d from %s", m.Type, m.Sender)
		return
	}

	frame := &execFrame{}
	c := s.newCallCtx(nil, frame, 0, nil)
	s.invokeReceiver(c, rcv, m)
	s.releaseCtx(c)
	s.propagate(frame)
}

func (s *Server) invokeReceiver(c *callCtx, rcv receiver, m cluster.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("cluster receiver for type %d (module %s) panicked: %v", m.Type, rcv.owner, rec)
		}
	}()
	rcv.cb(c.id, m.Sender, m.Type, m.Payload)
}

func (s *Server) GetClusterNodesList(ctx raw.Ctx) raw.NodeListPtr {
	c := s.ctx(ctx)
	if c == nil || s.bus == nil {
		return 0
	}
	id := s.handles.nextID()
	s.handles.nodeLists[raw.NodeListPtr(id)] = &nodeList{ids: s.bus.Nodes()}
	c.owned = append(c.owned, id)
	return raw.NodeListPtr(id)
}

func (s *Server) ClusterNodesListLen(p raw.NodeListPtr) int {
	if l, ok := s.handles.nodeLists[p]; ok {
		return len(l.ids)
	}
	return 0
}

func (s *Server) ClusterNodesListAt(p raw.NodeListPtr, idx int) string {
	l, ok := s.handles.nodeLists[p]
	if !ok || idx < 0 || idx >= len(l.ids) {
		return ""
	}
	return l.ids[idx]
}

func (s *Server) FreeClusterNodesList(p raw.NodeListPtr) {
	delete(s.handles.nodeLists, p)
}

func (s *Server) GetMyClusterID(_ raw.Ctx) string {
	if s.bus == nil {
		return ""
	}
	return s.bus.ID()
}

func (s *Server) SetClusterFlags(_ raw.Ctx, flags uint64) {
	s.clusterFlags.Store(flags)
	log.Debugf("cluster flags set to %#x", flags)
}

// ClusterFlags returns the flags last set by a module.
func (s *Server) ClusterFlags() uint64 {
	return s.clusterFlags.Load()
}

func (s *Server) RegisterClusterMessageReceiver(ctx raw.Ctx, msgType uint8, cb raw.ClusterMessageReceiver) {
	c := s.ctx(ctx)
	if c == nil {
		log.Warningf("receiver for cluster message type %d registered with an invalid context", msgType)
		return
	}
	if cb == nil {
		s.receivers.Delete(msgType)
		return
	}
	s.receivers.Store(msgType, receiver{owner: c.ownerModule(), cb: cb})
}

func (s *Server) SendClusterMessage(ctx raw.Ctx, target string, msgType uint8, payload []byte) raw.Status {
	if s.ctx(ctx) == nil || s.bus == nil {
		return raw.StatusErr
	}
	var err error
	if target == "" {
		err = s.bus.Broadcast(msgType, payload)
	} else {
		err = s.bus.Send(target, msgType, payload)
	}
	if err != nil {
		log.Warningf("failed to send cluster message type %d to %q: %v", msgType, target, err)
		return raw.StatusErr
	}
	return raw.StatusOK
}
