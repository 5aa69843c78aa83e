package catalog

import (
	"fmt"
)

// MemoryStore holds items in memory only. Benchmarks use it so sample runs never touch
// the catalog file.
type MemoryStore struct {
	items []Item
}

// NewMemoryStore builds a store from items; their Index is reassigned to the slice
// position.
func NewMemoryStore(items []Item) *MemoryStore {
	out := make([]Item, len(items))
	for i, it := range items {
		it.Index = i
		out[i] = it
	}
	return &MemoryStore{items: out}
}

func (m *MemoryStore) Items() []Item {
	return append([]Item(nil), m.items...)
}

func (m *MemoryStore) Pending() []Item {
	return pendingItems(m.items)
}

func (m *MemoryStore) Counts() Counts {
	return countItems(m.items)
}

func (m *MemoryStore) Commit(it Item) error {
	if it.Index < 0 || it.Index >= len(m.items) {
		return fmt.Errorf("commit item %q: index %d out of range", it.ID, it.Index)
	}
	m.items[it.Index].Result = it.Result
	return nil
}
