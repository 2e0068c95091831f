package width

import (
	"container/heap"

	"github.com/eddiefleurent/option_width/internal/models"
)

type candidate struct {
	id     string
	volume float64
}

// ahead reports whether a ranks before b: higher volume first, equal volume
// broken by instrument id ascending.
func ahead(a, b candidate) bool {
	if a.volume != b.volume {
		return a.volume > b.volume
	}
	return a.id < b.id
}

// worstFirst is a min-heap whose root is the weakest kept candidate.
type worstFirst []candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return ahead(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// activity tracks summed option volume by type across both months.
type activity struct {
	byType map[models.OptionType][]candidate
}

func newActivity() *activity {
	return &activity{byType: make(map[models.OptionType][]candidate)}
}

func (a *activity) add(typ models.OptionType, id string, volume float64) {
	if volume <= 0 {
		return
	}
	a.byType[typ] = append(a.byType[typ], candidate{id: id, volume: volume})
}

// top selects the k most active ids of a type without sorting the pool.
func (a *activity) top(typ models.OptionType, k int) []string {
	return selectTop(a.byType[typ], k)
}

func selectTop(pool []candidate, k int) []string {
	if k <= 0 {
		return []string{}
	}
	h := make(worstFirst, 0, k)
	for _, c := range pool {
		if h.Len() < k {
			heap.Push(&h, c)
			continue
		}
		if ahead(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := make([]string, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(candidate).id
	}
	return out
}
