package util

import (
	"sync"
	"testing"
	"time"
)

type testMsg struct {
	sender string
	seq    int
}

// TestBasicOperations tests push and receive with a single producer
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[testMsg]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&testMsg{sender: "a", seq: i}) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case m := <-q.Recv():
			if m.seq != i {
				t.Errorf("Expected seq %d, got %d", i, m.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case m := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", m)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestPushNil tests that nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[testMsg]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

// TestPerProducerOrder verifies that concurrent producers keep their own order and no
// message is lost or duplicated
func TestPerProducerOrder(t *testing.T) {
	q := NewLockFreeMPSC[testMsg]()
	defer q.Close()

	producers := []string{"n1", "n2", "n3", "n4"}
	const perProducer = 2000

	var wg sync.WaitGroup
	for _, p := range producers {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(&testMsg{sender: sender, seq: i})
			}
		}(p)
	}

	last := make(map[string]int)
	for _, p := range producers {
		last[p] = -1
	}
	for i := 0; i < len(producers)*perProducer; i++ {
		select {
		case m := <-q.Recv():
			if m.seq != last[m.sender]+1 {
				t.Fatalf("sender %s: got seq %d after %d", m.sender, m.seq, last[m.sender])
			}
			last[m.sender] = m.seq
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout after %d messages", i)
		}
	}
	wg.Wait()
}

// TestCloseQueue verifies that queued values survive Close and pushes are rejected
func TestCloseQueue(t *testing.T) {
	q := NewLockFreeMPSC[testMsg]()

	for i := 0; i < 5; i++ {
		q.Push(&testMsg{seq: i})
	}
	q.Close()

	if q.Push(&testMsg{seq: 100}) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("IsClosed() should be true")
	}

	for i := 0; i < 5; i++ {
		select {
		case m := <-q.Recv():
			if m.seq != i {
				t.Errorf("Expected %d, got %d", i, m.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Channel should be closed but is still open")
		}
	case <-time.After(time.Second):
		t.Error("Channel was not closed after draining")
	}
}

// TestWakeAfterIdle pushes after the consumer went to sleep
func TestWakeAfterIdle(t *testing.T) {
	q := NewLockFreeMPSC[testMsg]()
	defer q.Close()

	for round := 0; round < 50; round++ {
		time.Sleep(time.Millisecond)
		q.Push(&testMsg{seq: round})
		select {
		case m := <-q.Recv():
			if m.seq != round {
				t.Fatalf("round %d: got %d", round, m.seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("round %d: consumer was not woken", round)
		}
	}
}

// BenchmarkMultiProducer benchmarks the queue with parallel producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[testMsg]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(&testMsg{seq: i})
			i++
		}
	})
}
