package db

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"toolcustody/models"
)

// MemStore keeps everything in process memory. It backs STORE_DRIVER=memory
// and the tests of packages that need a Store.
type MemStore struct {
	mu     sync.Mutex
	tools  map[string]models.Tool
	users  map[string]models.User
	creds  []models.Credential
	nextID uint

	// FailReads / FailWrites, when set, are returned by every read / write.
	FailReads  error
	FailWrites error

	// Writes counts write calls that reached the store, failed or not.
	Writes int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		tools: make(map[string]models.Tool),
		users: make(map[string]models.User),
	}
}

func (m *MemStore) FetchTools(ctx context.Context) ([]models.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return nil, m.FailReads
	}
	ids := make([]string, 0, len(m.tools))
	for id := range m.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Tool, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tools[id].Clone())
	}
	return out, nil
}

func (m *MemStore) FetchTool(ctx context.Context, id string) (models.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return models.Tool{}, m.FailReads
	}
	t, ok := m.tools[id]
	if !ok {
		return models.Tool{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemStore) UpsertTool(ctx context.Context, t models.Tool) error {
	return m.UpsertTools(ctx, []models.Tool{t})
}

func (m *MemStore) UpsertTools(ctx context.Context, ts []models.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites != nil {
		return m.FailWrites
	}
	for _, t := range ts {
		next := t.Clone()
		prev, ok := m.tools[t.ID]
		if ok {
			next.Logs = mergeLogs(prev.Logs, t.Logs)
		}
		if next.ItemCount < 1 {
			next.ItemCount = defaultItemCount
		}
		m.tools[t.ID] = next
	}
	return nil
}

func (m *MemStore) CommitTool(ctx context.Context, next models.Tool, expectedVersion int64, entry *models.ToolLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites != nil {
		return m.FailWrites
	}
	cur, ok := m.tools[next.ID]
	if !ok || cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	stored.Logs = cur.Clone().Logs
	if entry != nil {
		stored.Logs = mergeLogs(stored.Logs, []models.ToolLog{*entry})
	}
	m.tools[next.ID] = stored
	return nil
}

func (m *MemStore) SeedTools(ctx context.Context, ts []models.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites != nil {
		return m.FailWrites
	}
	for _, t := range ts {
		if _, ok := m.tools[t.ID]; !ok {
			m.tools[t.ID] = t.Clone()
		}
	}
	return nil
}

// mergeLogs appends entries whose ids are not yet present. Used by both
// stores: legacy logs column first, tool_logs rows after.
func mergeLogs(have, add []models.ToolLog) []models.ToolLog {
	seen := make(map[string]bool, len(have))
	out := make([]models.ToolLog, len(have), len(have)+len(add))
	copy(out, have)
	for _, l := range have {
		seen[l.ID] = true
	}
	for _, l := range add {
		if !seen[l.ID] {
			seen[l.ID] = true
			out = append(out, l)
		}
	}
	return out
}

func (m *MemStore) FetchUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return nil, m.FailReads
	}
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpsertUser(ctx context.Context, u models.User) error {
	return m.UpsertUsers(ctx, []models.User{u})
}

func (m *MemStore) UpsertUsers(ctx context.Context, us []models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites != nil {
		return m.FailWrites
	}
	for _, u := range us {
		for id, other := range m.users {
			if id != u.ID && strings.EqualFold(other.Email, u.Email) {
				return ErrDuplicateEmail
			}
		}
	}
	for _, u := range us {
		m.users[u.ID] = u
	}
	return nil
}

func (m *MemStore) SeedUsers(ctx context.Context, us []models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites != nil {
		return m.FailWrites
	}
next:
	for _, u := range us {
		for id, other := range m.users {
			if id == u.ID || strings.EqualFold(other.Email, u.Email) {
				continue next
			}
		}
		m.users[u.ID] = u
	}
	return nil
}

func (m *MemStore) AddCredential(ctx context.Context, c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	m.creds = append(m.creds, c)
	return nil
}

func (m *MemStore) LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Credential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) FindUserIDByCredentialID(ctx context.Context, credID []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if bytes.Equal(c.CredentialID, credID) {
			return c.UserID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemStore) UpdateCredentialCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarn bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.creds {
		if bytes.Equal(m.creds[i].CredentialID, credID) {
			m.creds[i].SignCount = signCount
			m.creds[i].CloneWarning = cloneWarn
			m.creds[i].LastUsedAt = &now
			return nil
		}
	}
	return ErrNotFound
}
