package order

import "slices"

// needComparison stops a replay at the first pair the graph cannot order.
type needComparison struct {
	a, b string
}

// heapReplay is one run of heapsort where the comparator is a graph lookup.
type heapReplay struct {
	g    Graph
	heap []string
}

// greater reports whether a is known to be greater than b.
func (r *heapReplay) greater(a, b string) (bool, *needComparison) {
	switch Compare(r.g, a, b) {
	case Greater:
		return true, nil
	case Less:
		return false, nil
	default:
		return false, &needComparison{a: a, b: b}
	}
}

func (r *heapReplay) siftDown(i, n int) *needComparison {
	h := r.heap
	for {
		largest := i
		left, right := 2*i+1, 2*i+2
		if left < n {
			gt, need := r.greater(h[i], h[left])
			if need != nil {
				return need
			}
			if !gt {
				largest = left
			}
		}
		if right < n {
			gt, need := r.greater(h[largest], h[right])
			if need != nil {
				return need
			}
			if !gt {
				largest = right
			}
		}
		if largest == i {
			return nil
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}

// HeapSort replays heapsort over items using only what g knows.
//
// The heap starts in input order, so items decides which questions get asked
// but not the final order. The first pair g cannot order is returned as the
// next comparison together with BestSorts over items. When every comparison
// is known the status is Done and Sorted lists the items best first.
func HeapSort(g Graph, items []string) SortStatus {
	items = dedupe(items)
	r := &heapReplay{g: g, heap: slices.Clone(items)}
	n := len(r.heap)

	for i := n/2 - 1; i >= 0; i-- {
		if need := r.siftDown(i, n); need != nil {
			return pendingStatus(need.a, need.b, BestSorts(g, items))
		}
	}

	popped := make([]string, 0, n)
	for n > 0 {
		r.heap[0], r.heap[n-1] = r.heap[n-1], r.heap[0]
		popped = append(popped, r.heap[n-1])
		n--
		if need := r.siftDown(0, n); need != nil {
			return pendingStatus(need.a, need.b, BestSorts(g, items))
		}
	}
	return doneStatus(popped)
}
