package util

import (
	"container/heap"
	"fmt"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if len(mh.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(mh.itemsMap))
	}
}

// TestAddItem tests adding keys to the heap
func TestAddItem(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	for _, k := range []string{"a", "b", "c"} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %s", k)
		}
	}

	// earliest deadline on top
	it, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if it.Key != "c" || it.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %s", it)
	}
}

// TestUpdateItem tests moving the deadline of existing keys
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)

	// move a behind b
	mh.AddItem("a", 300)

	it, exists := mh.GetByKey("a")
	if !exists {
		t.Fatal("Item with key a should exist")
	}
	if it.Priority != 300 {
		t.Errorf("Item with key a should have priority 300, got %d", it.Priority)
	}
	if mh.Len() != 2 {
		t.Errorf("Update must not add a second item, len = %d", mh.Len())
	}

	min, _ := mh.Peek()
	if min.Key != "b" {
		t.Errorf("Min item should now be key b, got %s", min.Key)
	}

	mh.AddItem("b", 50)
	min, _ = mh.Peek()
	if min.Key != "b" || min.Priority != 50 {
		t.Errorf("Min item should now be (b,50), got %s", min)
	}
}

// TestRemoveByKey tests removing keys
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 300)

	value, exists := mh.RemoveByKey("b")
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if value != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", value)
	}
	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", mh.Len())
	}
	if mh.Contains("b") {
		t.Error("Heap should not contain key b after removal")
	}

	if _, exists = mh.RemoveByKey("missing"); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in deadline order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap()

	items := []struct {
		key   string
		value int64
	}{
		{"e", 50},
		{"c", 30},
		{"a", -10},
		{"d", 40},
		{"b", 20},
	}

	for _, it := range items {
		mh.AddItem(it.key, it.value)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].value < items[j].value
	})

	for i, expected := range items {
		if mh.Len() == 0 {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}

		it := heap.Pop(mh).(*item)
		if it.Key != expected.key || it.Priority != expected.value {
			t.Errorf("Pop %d: expected (%s,%d), got %s", i, expected.key, expected.value, it)
		}
	}

	if mh.Len() != 0 {
		t.Errorf("Heap should be empty after popping all items, has %d items", mh.Len())
	}
	if len(mh.itemsMap) != 0 {
		t.Errorf("Map should be empty after popping all items, has %d items", len(mh.itemsMap))
	}
}

// TestPeekEmptyHeap tests behavior when peeking an empty heap
func TestPeekEmptyHeap(t *testing.T) {
	mh := NewMapHeap()

	if _, exists := mh.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}

// TestReset tests dropping all items
func TestReset(t *testing.T) {
	mh := NewMapHeap()
	for i := 0; i < 10; i++ {
		mh.AddItem(fmt.Sprintf("k%d", i), int64(i))
	}

	mh.Reset()

	if mh.Len() != 0 || mh.Contains("k1") {
		t.Errorf("Heap should be empty after Reset, has %d items", mh.Len())
	}
}

// TestLargeNumberOfItems checks the heap invariant with many updates and removals
func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap()
	const n = 1000

	for i := 0; i < n; i++ {
		mh.AddItem(fmt.Sprintf("k%d", i), int64((i*7919)%n))
	}
	// remove every third key
	for i := 0; i < n; i += 3 {
		mh.RemoveByKey(fmt.Sprintf("k%d", i))
	}

	last := int64(-1)
	count := 0
	for mh.Len() > 0 {
		it := heap.Pop(mh).(*item)
		if it.Priority < last {
			t.Fatalf("Heap order violated: %d after %d", it.Priority, last)
		}
		last = it.Priority
		count++
	}

	expected := n - (n+2)/3
	if count != expected {
		t.Errorf("Expected %d items, popped %d", expected, count)
	}
}
