package host

import "time"

// startExpiry starts the active expiry cycle. Keys are also expired lazily on access, the
// cycle only collects keys nobody reads.
func (s *Server) startExpiry() {
	if s.config.ExpireInterval < 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.ExpireInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.ExpireCycle()
			}
		}
	}()
}

// ExpireCycle removes up to ExpireBatch expired keys per database and returns the number
// removed.
func (s *Server) ExpireCycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	n := 0
	for i, ks := range s.dbs {
		removed := ks.ActiveExpire(s.config.ExpireBatch)
		if removed > 0 {
			log.Debugf("expired %d keys in db %d", removed, i)
		}
		n += removed
	}
	s.metrics.expired.Add(n)
	return n
}
