package datapipe

import "container/heap"

// outcome is what travels on the result queue: a tagged result, a tagged failure, or a worker completion sentinel.
type outcome[O any] struct {
	index   int
	payload O
	err     error
	last    bool
}

// pendingBuffer holds outcomes arrived ahead of the next expected index. It is a min-heap on index, owned by the
// consumer only.
type pendingBuffer[O any] struct {
	items []outcome[O]
}

func (p *pendingBuffer[O]) Len() int           { return len(p.items) }
func (p *pendingBuffer[O]) Less(i, j int) bool { return p.items[i].index < p.items[j].index }
func (p *pendingBuffer[O]) Swap(i, j int)      { p.items[i], p.items[j] = p.items[j], p.items[i] }

func (p *pendingBuffer[O]) Push(x any) { p.items = append(p.items, x.(outcome[O])) }

func (p *pendingBuffer[O]) Pop() any {
	n := len(p.items) - 1
	item := p.items[n]
	p.items[n] = outcome[O]{}
	p.items = p.items[:n]
	return item
}

func (p *pendingBuffer[O]) add(o outcome[O]) { heap.Push(p, o) }

// popIndex removes and returns the minimum outcome if its index is index.
func (p *pendingBuffer[O]) popIndex(index int) (outcome[O], bool) {
	if len(p.items) == 0 || p.items[0].index != index {
		return outcome[O]{}, false
	}
	return heap.Pop(p).(outcome[O]), true
}

func (p *pendingBuffer[O]) indexes() []int {
	result := make([]int, len(p.items))
	for i, item := range p.items {
		result[i] = item.index
	}
	return result
}
