package replication

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"sync"
)

var ErrOffsetTrimmed = errors.New("offset no longer in backlog")

// --------------------------------------------------------------------------
// Backlog
// --------------------------------------------------------------------------

// Backlog keeps the most recent propagated batches in memory, so replicas can catch up
// from an offset. Offsets count batches; the first batch has offset 1.
type Backlog struct {
	mu      sync.Mutex
	batches [][]host.Propagated
	first   uint64 // offset of batches[0]
	limit   int
}

// NewBacklog creates a backlog that keeps at most limit batches (0 = 1024).
func NewBacklog(limit int) *Backlog {
	if limit <= 0 {
		limit = 1024
	}
	return &Backlog{first: 1, limit: limit}
}

func (b *Backlog) Kind() host.SinkKind { return host.SinkReplica }

func (b *Backlog) Propagate(batch []host.Propagated) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, copyBatch(batch))
	if over := len(b.batches) - b.limit; over > 0 {
		b.batches = append([][]host.Propagated{}, b.batches[over:]...)
		b.first += uint64(over)
	}
	return nil
}

// Offset returns the offset of the newest batch, 0 if nothing was propagated yet.
func (b *Backlog) Offset() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.first + uint64(len(b.batches)) - 1
}

// Since returns the batches after offset. It fails when some of them were trimmed.
func (b *Backlog) Since(offset uint64) ([][]host.Propagated, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset+1 < b.first {
		return nil, fmt.Errorf("%w: %d, oldest is %d", ErrOffsetTrimmed, offset, b.first)
	}
	start := int(offset + 1 - b.first)
	if start >= len(b.batches) {
		return nil, nil
	}
	return append([][]host.Propagated{}, b.batches[start:]...), nil
}

// Sync applies the batches after offset to replica and returns the new offset.
func (b *Backlog) Sync(replica *host.Server, offset uint64) (uint64, error) {
	batches, err := b.Since(offset)
	if err != nil {
		return offset, err
	}
	for _, batch := range batches {
		if err := replica.ApplyReplicated(batch); err != nil {
			return offset, fmt.Errorf("failed to apply batch %d: %w", offset+1, err)
		}
		offset++
	}
	return offset, nil
}
