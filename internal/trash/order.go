package trash

import (
	"container/heap"

	"github.com/gridbase/gridbase/pkg/types"
)

// deletionOrder sorts entries so that every entry comes before the entry
// of its parent. Ready entries are taken deepest first, then oldest, then
// by id, which keeps the order deterministic.
func deletionOrder(entries []*types.TrashEntry, registry *Registry) []*types.TrashEntry {
	n := len(entries)
	byID := make(map[int64]int, n)
	byItem := make(map[types.TrashItemRef]int, n)
	for i, e := range entries {
		byID[e.ID] = i
		byItem[types.TrashItemRef{Type: e.ItemType, ID: e.ItemID}] = i
	}

	// parent[i] is the index of the entry that must wait for entry i.
	parent := make([]int, n)
	pending := make([]int, n)
	for i, e := range entries {
		parent[i] = -1
		if e.ParentEntryID != nil {
			if p, ok := byID[*e.ParentEntryID]; ok {
				parent[i] = p
			}
		}
		if parent[i] < 0 && e.ParentItemID != nil {
			if t, err := registry.Get(e.ItemType); err == nil {
				if p, ok := byItem[types.TrashItemRef{Type: t.ParentType(), ID: *e.ParentItemID}]; ok {
					parent[i] = p
				}
			}
		}
		if parent[i] == i {
			parent[i] = -1
		}
		if parent[i] >= 0 {
			pending[parent[i]]++
		}
	}

	ready := &entryHeap{entries: entries, registry: registry}
	for i := 0; i < n; i++ {
		if pending[i] == 0 {
			ready.idx = append(ready.idx, i)
		}
	}
	heap.Init(ready)

	out := make([]*types.TrashEntry, 0, n)
	done := make([]bool, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		done[i] = true
		out = append(out, entries[i])
		if p := parent[i]; p >= 0 {
			pending[p]--
			if pending[p] == 0 {
				heap.Push(ready, p)
			}
		}
	}

	// Parent links cannot form cycles; anything left is appended as is.
	for i := 0; i < n; i++ {
		if !done[i] {
			out = append(out, entries[i])
		}
	}
	return out
}

type entryHeap struct {
	idx      []int
	entries  []*types.TrashEntry
	registry *Registry
}

func (h *entryHeap) Len() int { return len(h.idx) }

func (h *entryHeap) Less(i, j int) bool {
	a, b := h.entries[h.idx[i]], h.entries[h.idx[j]]
	da, db := h.registry.Depth(a.ItemType), h.registry.Depth(b.ItemType)
	if da != db {
		return da > db
	}
	if !a.TrashedAt.Equal(b.TrashedAt) {
		return a.TrashedAt.Before(b.TrashedAt)
	}
	return a.ID < b.ID
}

func (h *entryHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *entryHeap) Push(x any)    { h.idx = append(h.idx, x.(int)) }

func (h *entryHeap) Pop() any {
	old := h.idx
	n := len(old)
	x := old[n-1]
	h.idx = old[:n-1]
	return x
}
