package dedup

import "container/heap"

// mergeItem pairs a record with the source it came from so ties can be
// broken by the writing task's rank.
type mergeItem[T any] struct {
	rec T
	src *recordSource[T]
}

type mergeHeap[T any] struct {
	items []mergeItem[T]
	less  func(a, b mergeItem[T]) bool
}

func (h *mergeHeap[T]) Len() int           { return len(h.items) }
func (h *mergeHeap[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *mergeHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap[T]) Push(x any) {
	h.items = append(h.items, x.(mergeItem[T]))
}

func (h *mergeHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// mergeSorted streams the union of the already sorted sources in global
// order, calling emit with each record and the rank of the shard it
// came from. Sources stay open; the caller closes them.
func mergeSorted[T any](sources []*recordSource[T], less func(a, b mergeItem[T]) bool, emit func(rec T, rank int) error) error {
	h := &mergeHeap[T]{less: less}
	for _, src := range sources {
		rec, ok, err := src.next()
		if err != nil {
			return err
		}
		if ok {
			h.items = append(h.items, mergeItem[T]{rec: rec, src: src})
		}
	}
	heap.Init(h)
	for h.Len() > 0 {
		item := h.items[0]
		if err := emit(item.rec, item.src.rank); err != nil {
			return err
		}
		rec, ok, err := item.src.next()
		if err != nil {
			return err
		}
		if ok {
			h.items[0] = mergeItem[T]{rec: rec, src: item.src}
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return nil
}
