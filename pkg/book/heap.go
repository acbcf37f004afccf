package book

// maxPriceHeap tracks bid prices, highest on top. Manipulated through
// container/heap (Init, Push, Pop, Remove).
type maxPriceHeap []int64

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x any) {
	*h = append(*h, x.(int64))
}

func (h *maxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxPriceHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// minPriceHeap tracks ask prices, lowest on top.
type minPriceHeap []int64

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x any) {
	*h = append(*h, x.(int64))
}

func (h *minPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h minPriceHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
