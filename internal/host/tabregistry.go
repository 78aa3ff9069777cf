package host

import (
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabRegistry gives CDP page targets stable integer tab ids for the
// lifetime of the process.
type TabRegistry struct {
	mu       sync.RWMutex
	next     int
	byTarget map[target.ID]int
	byID     map[int]target.ID
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		byTarget: make(map[target.ID]int),
		byID:     make(map[int]target.ID),
	}
}

// Assign returns the id for targetID, allocating one on first sight.
func (r *TabRegistry) Assign(targetID target.ID) int {
	r.mu.RLock()
	id, ok := r.byTarget[targetID]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byTarget[targetID]; ok {
		return id
	}
	r.next++
	r.byTarget[targetID] = r.next
	r.byID[r.next] = targetID
	return r.next
}

// Target returns the target behind a tab id.
func (r *TabRegistry) Target(id int) (target.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tid, ok := r.byID[id]
	return tid, ok
}

// Retain forgets every target not in live. Ids are never reused.
func (r *TabRegistry) Retain(live []target.ID) []target.ID {
	keep := make(map[target.ID]bool, len(live))
	for _, tid := range live {
		keep[tid] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []target.ID
	for tid, id := range r.byTarget {
		if !keep[tid] {
			delete(r.byTarget, tid)
			delete(r.byID, id)
			removed = append(removed, tid)
		}
	}
	return removed
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
