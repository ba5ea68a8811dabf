package room

import (
	"container/heap"
	"fmt"
	"strconv"
)

// nicknameWidth is the zero-padded width of allocated identities ("001").
const nicknameWidth = 3

// NicknameAllocator hands out compact numeric identities and always reuses the
// smallest free one, so a join right after a leave gets the identity that was
// just released. An id is assigned while at least one holder has it; holders
// come from Allocate or from Reserve.
type NicknameAllocator struct {
	assigned map[int]int
	free     idHeap
	high     int
}

// NewNicknameAllocator creates an allocator with no assigned ids.
func NewNicknameAllocator() *NicknameAllocator {
	return &NicknameAllocator{assigned: make(map[int]int)}
}

// Allocate assigns the smallest free id and returns it formatted.
func (a *NicknameAllocator) Allocate() string {
	var id int
	if a.free.Len() > 0 {
		id = heap.Pop(&a.free).(int)
	} else {
		a.high++
		id = a.high
	}
	a.assigned[id] = 1
	return formatNickname(id)
}

// Reserve adds a holder to the id behind identity, so Allocate will not hand
// it out while the holder remains. It returns false, and changes nothing, when
// identity is not in the allocator's format.
func (a *NicknameAllocator) Reserve(identity string) bool {
	id, ok := parseNickname(identity)
	if !ok {
		return false
	}

	if a.assigned[id] > 0 {
		a.assigned[id]++
		return true
	}

	if id > a.high {
		for skipped := a.high + 1; skipped < id; skipped++ {
			heap.Push(&a.free, skipped)
		}
		a.high = id
	} else {
		for i, freed := range a.free {
			if freed == id {
				heap.Remove(&a.free, i)
				break
			}
		}
	}
	a.assigned[id] = 1
	return true
}

// Release drops one holder of the id behind identity and frees the id with
// its last holder. Identities that are not assigned are ignored and false is
// returned.
func (a *NicknameAllocator) Release(identity string) bool {
	id, ok := parseNickname(identity)
	if !ok || a.assigned[id] == 0 {
		return false
	}
	if a.assigned[id]--; a.assigned[id] > 0 {
		return true
	}
	delete(a.assigned, id)
	heap.Push(&a.free, id)
	return true
}

// InUse returns the number of assigned ids.
func (a *NicknameAllocator) InUse() int {
	return len(a.assigned)
}

func formatNickname(id int) string {
	return fmt.Sprintf("%0*d", nicknameWidth, id)
}

// parseNickname returns the id of an identity in the allocator's format.
func parseNickname(identity string) (int, bool) {
	id, err := strconv.Atoi(identity)
	if err != nil || id <= 0 || formatNickname(id) != identity {
		return 0, false
	}
	return id, true
}

// idHeap is a min-heap of released ids below the high-water mark.
type idHeap []int

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
