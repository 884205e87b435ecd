package account

import (
	"strings"
	"sync"

	"toolcustody/models"
)

// Directory is the in-memory user set. Email lookups ignore case.
type Directory struct {
	mu    sync.RWMutex
	order []string
	users map[string]models.User

	// 每次本地写入递增 seq，written 记录用户最后一次写入时的 seq
	seq     uint64
	written map[string]uint64
}

func NewDirectory(users []models.User) *Directory {
	d := &Directory{}
	d.Replace(users)
	return d
}

func (d *Directory) Replace(users []models.User) {
	order := make([]string, 0, len(users))
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		if _, dup := byID[u.ID]; !dup {
			order = append(order, u.ID)
		}
		byID[u.ID] = u
	}
	d.mu.Lock()
	d.order, d.users = order, byID
	d.written = make(map[string]uint64)
	d.mu.Unlock()
}

// Mark returns the current write position. Take it before fetching from the
// store and hand it to ReplaceSince.
func (d *Directory) Mark() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seq
}

// ReplaceSince swaps in a fetched user set but keeps every local record
// written after mark, since the fetch may predate it.
func (d *Directory) ReplaceSince(users []models.User, mark uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	order := make([]string, 0, len(users))
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		if _, dup := byID[u.ID]; !dup {
			order = append(order, u.ID)
		}
		byID[u.ID] = u
	}
	written := make(map[string]uint64)
	for _, id := range d.order {
		at := d.written[id]
		if at <= mark {
			continue
		}
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = d.users[id]
		written[id] = at
	}
	d.order, d.users, d.written = order, byID, written
}

func normEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (d *Directory) ByEmail(email string) (models.User, bool) {
	want := normEmail(email)
	if want == "" {
		return models.User{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if u := d.users[id]; normEmail(u.Email) == want {
			return u, true
		}
	}
	return models.User{}, false
}

func (d *Directory) ByID(id string) (models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// List returns the users with passwords removed.
func (d *Directory) List() []models.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id].Public())
	}
	return out
}

// All returns the full records, passwords included.
func (d *Directory) All() []models.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

func (d *Directory) put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.ID]; !ok {
		d.order = append(d.order, u.ID)
	}
	d.users[u.ID] = u
	d.seq++
	d.written[u.ID] = d.seq
}
