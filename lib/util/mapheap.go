// Package util
//
// This file provides the priority queue that drives key expiry.
//
// The queue combines a binary heap with a hash map: the heap keeps the key with the
// earliest deadline on top, the map gives direct access to a key's entry so that a
// deadline can be moved or dropped when the key is rewritten, persisted or deleted.
//
// Time Complexity:
//   - O(log n) for Push, Pop and AddItem updates
//   - O(1) for Contains and GetByKey
//   - O(log n) for RemoveByKey
//
// The queue is not thread-safe; the keyspace that owns it is only used under the server
// loop lock.
//
// Example usage:
//
//	expires := NewMapHeap()
//	expires.AddItem("session:1", deadlineMs)
//
//	for {
//	    next, ok := expires.Peek()
//	    if !ok || next.Priority > nowMs {
//	        break
//	    }
//	    expires.RemoveByKey(next.Key)
//	    // delete the key
//	}
package util

import (
	"container/heap"
	"strconv"
)

// item is one key with its deadline.
type item struct {
	Key      string // The key
	Priority int64  // Deadline in unix milliseconds
	index    int    // Index in the heap, maintained by heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.Quote(i.Key) + ", Priority: " + strconv.FormatInt(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of keys ordered by priority with key-based access.
type MapHeap struct {
	items    []*item          // The actual heap slice
	itemsMap map[string]*item // Map for O(1) access by key
}

// NewMapHeap creates a new, empty queue.
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[string]*item),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap) Len() int { return len(mh.items) }

// Less orders by priority, earliest deadline first (part of heap.Interface)
func (mh *MapHeap) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (mh *MapHeap) Push(x interface{}) {
	n := len(mh.items)
	it := x.(*item)
	it.index = n
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes and returns the minimum item (part of heap.Interface)
func (mh *MapHeap) Pop() interface{} {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds a key to the queue or moves its deadline
func (mh *MapHeap) AddItem(key string, priority int64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}

	heap.Push(mh, &item{
		Key:      key,
		Priority: priority,
	})
}

// RemoveByKey removes a key and returns its priority
func (mh *MapHeap) RemoveByKey(key string) (int64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}

	heap.Remove(mh, it.index)
	return it.Priority, true
}

// Peek returns the item with the earliest deadline without removing it
func (mh *MapHeap) Peek() (*item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap) Contains(key string) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap) GetByKey(key string) (*item, bool) {
	it, exists := mh.itemsMap[key]
	return it, exists
}

// Reset drops every item.
func (mh *MapHeap) Reset() {
	mh.items = make([]*item, 0)
	mh.itemsMap = make(map[string]*item)
}
