package custody

import (
	"sync"

	"toolcustody/models"
)

// Inventory 进程内的工具工作集：整体加载，无分页。
// Reads hand out clones; writes to a single tool are serialised through
// lockTool so one request's commit settles before the next starts.
type Inventory struct {
	mu    sync.RWMutex
	order []string
	tools map[string]models.Tool

	// seq 随每次本地写入递增，written 记录工具最后一次写入的 seq
	seq     uint64
	written map[string]uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewInventory(tools []models.Tool) *Inventory {
	inv := &Inventory{locks: make(map[string]*sync.Mutex)}
	inv.Replace(tools)
	return inv
}

// Replace swaps the whole working set, keeping the given order.
func (inv *Inventory) Replace(tools []models.Tool) {
	order := make([]string, 0, len(tools))
	byID := make(map[string]models.Tool, len(tools))
	for _, t := range tools {
		if _, dup := byID[t.ID]; !dup {
			order = append(order, t.ID)
		}
		byID[t.ID] = t.Clone()
	}
	inv.mu.Lock()
	inv.order, inv.tools = order, byID
	inv.written = make(map[string]uint64)
	inv.mu.Unlock()
}

// Mark returns the current write position; see ReplaceSince.
func (inv *Inventory) Mark() uint64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.seq
}

// ReplaceSince swaps in a fetched set but keeps the tools written locally
// after mark, which the fetch may not have seen.
func (inv *Inventory) ReplaceSince(tools []models.Tool, mark uint64) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	order := make([]string, 0, len(tools))
	byID := make(map[string]models.Tool, len(tools))
	for _, t := range tools {
		if _, dup := byID[t.ID]; !dup {
			order = append(order, t.ID)
		}
		byID[t.ID] = t.Clone()
	}
	written := make(map[string]uint64)
	for _, id := range inv.order {
		at := inv.written[id]
		if at <= mark {
			continue
		}
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = inv.tools[id]
		written[id] = at
	}
	inv.order, inv.tools, inv.written = order, byID, written
}

func (inv *Inventory) List() []models.Tool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]models.Tool, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, inv.tools[id].Clone())
	}
	return out
}

func (inv *Inventory) Get(id string) (models.Tool, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	t, ok := inv.tools[id]
	if !ok {
		return models.Tool{}, false
	}
	return t.Clone(), true
}

func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.order)
}

// put stores t, appending it at the end when it is new.
func (inv *Inventory) put(t models.Tool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, ok := inv.tools[t.ID]; !ok {
		inv.order = append(inv.order, t.ID)
	}
	inv.tools[t.ID] = t.Clone()
	inv.seq++
	inv.written[t.ID] = inv.seq
}

func (inv *Inventory) lockTool(id string) func() {
	inv.locksMu.Lock()
	l, ok := inv.locks[id]
	if !ok {
		l = &sync.Mutex{}
		inv.locks[id] = l
	}
	inv.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}
