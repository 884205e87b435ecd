package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"toolcustody/db"
	"toolcustody/metrics"
	"toolcustody/models"

	"github.com/google/uuid"
)

// Service applies custody and admin changes: permission check, transition,
// one store commit, then the in-memory update. A failed commit leaves the
// inventory untouched.
type Service struct {
	Store db.Store
	Inv   *Inventory
	Now   func() time.Time
	NewID func() string
}

func NewService(store db.Store, inv *Inventory) *Service {
	return &Service{
		Store: store,
		Inv:   inv,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

func (s *Service) BookOut(ctx context.Context, actor models.User, toolID string, d Details) (models.Tool, error) {
	if !models.Can(actor.Role, models.CapBook) {
		return models.Tool{}, ErrForbidden
	}
	unlock := s.Inv.lockTool(toolID)
	defer unlock()

	cur, ok := s.Inv.Get(toolID)
	if !ok {
		return models.Tool{}, ErrToolNotFound
	}
	next, entry, err := BookOut(cur, actor, s.Now(), d, s.NewID())
	if err != nil {
		metrics.IncTransition(string(models.ActionBookOut), "rejected")
		return cur, err
	}
	return s.commit(ctx, models.ActionBookOut, cur, next, &entry)
}

func (s *Service) Return(ctx context.Context, actor models.User, toolID string, d Details) (models.Tool, error) {
	if !models.Can(actor.Role, models.CapReturn) {
		return models.Tool{}, ErrForbidden
	}
	unlock := s.Inv.lockTool(toolID)
	defer unlock()

	cur, ok := s.Inv.Get(toolID)
	if !ok {
		return models.Tool{}, ErrToolNotFound
	}
	next, entry, err := Return(cur, actor, s.Now(), d, s.NewID())
	if err != nil {
		metrics.IncTransition(string(models.ActionReturn), "rejected")
		return cur, err
	}
	return s.commit(ctx, models.ActionReturn, cur, next, &entry)
}

// NewTool is the input of CreateTool.
type NewTool struct {
	Name         string            `json:"name"`
	Category     string            `json:"category"`
	SerialNumber string            `json:"serialNumber"`
	ItemCount    int               `json:"numberOfItems"`
	PurchaseDate *time.Time        `json:"dateOfPurchase"`
	Notes        string            `json:"notes"`
	MainPhoto    *string           `json:"mainPhoto"`
	CurrentSite  *string           `json:"currentSite"`
	Status       models.ToolStatus `json:"status"`
}

func (s *Service) CreateTool(ctx context.Context, actor models.User, in NewTool) (models.Tool, error) {
	if !models.Can(actor.Role, models.CapManageInventory) {
		return models.Tool{}, ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Tool{}, ErrInvalidTool
	}
	status := in.Status
	if status == "" {
		status = models.StatusAvailable
	}
	if !status.Valid() || status == models.StatusBookedOut {
		return models.Tool{}, ErrInvalidStatus
	}
	count := in.ItemCount
	if count < 1 {
		count = 1
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "General"
	}

	now := s.Now()
	t := models.Tool{
		ID:           s.NewID(),
		Name:         name,
		Category:     category,
		SerialNumber: strings.TrimSpace(in.SerialNumber),
		ItemCount:    count,
		PurchaseDate: in.PurchaseDate,
		Notes:        in.Notes,
		MainPhoto:    in.MainPhoto,
		CurrentSite:  in.CurrentSite,
		Status:       status,
	}
	t.Logs = []models.ToolLog{newEntry(s.NewID(), actor, models.ActionCreate, now, Details{Site: in.CurrentSite})}

	if err := s.Store.UpsertTool(ctx, t); err != nil && !db.IsAbsent(err) {
		metrics.IncTransition(string(models.ActionCreate), "failed")
		metrics.IncStoreWriteFailure("tool")
		slog.Error("create tool failed", "tool", t.ID, "err", err)
		return models.Tool{}, fmt.Errorf("%w: %w", db.ErrWriteFailed, err)
	}
	metrics.IncTransition(string(models.ActionCreate), "ok")
	s.Inv.put(t)
	return t, nil
}

// DetailsPatch updates descriptive fields; nil means unchanged.
type DetailsPatch struct {
	Name         *string    `json:"name"`
	Category     *string    `json:"category"`
	SerialNumber *string    `json:"serialNumber"`
	ItemCount    *int       `json:"numberOfItems"`
	PurchaseDate *time.Time `json:"dateOfPurchase"`
	Notes        *string    `json:"notes"`
	MainPhoto    *string    `json:"mainPhoto"`
	CurrentSite  *string    `json:"currentSite"`
}

func (s *Service) UpdateDetails(ctx context.Context, actor models.User, toolID string, p DetailsPatch) (models.Tool, error) {
	if !models.Can(actor.Role, models.CapManageInventory) {
		return models.Tool{}, ErrForbidden
	}
	unlock := s.Inv.lockTool(toolID)
	defer unlock()

	cur, ok := s.Inv.Get(toolID)
	if !ok {
		return models.Tool{}, ErrToolNotFound
	}
	next := cur.Clone()
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		if n == "" {
			return cur, ErrInvalidTool
		}
		next.Name = n
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) != "" {
		next.Category = strings.TrimSpace(*p.Category)
	}
	if p.SerialNumber != nil {
		next.SerialNumber = strings.TrimSpace(*p.SerialNumber)
	}
	if p.ItemCount != nil {
		next.ItemCount = max(*p.ItemCount, 1)
	}
	if p.PurchaseDate != nil {
		next.PurchaseDate = models.Ptr(p.PurchaseDate.UTC())
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if p.MainPhoto != nil {
		next.MainPhoto = optional(*p.MainPhoto)
	}
	if p.CurrentSite != nil {
		next.CurrentSite = optional(*p.CurrentSite)
	}
	return s.commit(ctx, "UPDATE", cur, next, nil)
}

// optional maps "" to nil so a client can clear a field.
func optional(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func (s *Service) SetStatus(ctx context.Context, actor models.User, toolID string, status models.ToolStatus, comment *string) (models.Tool, error) {
	if !models.Can(actor.Role, models.CapManageInventory) {
		return models.Tool{}, ErrForbidden
	}
	unlock := s.Inv.lockTool(toolID)
	defer unlock()

	cur, ok := s.Inv.Get(toolID)
	if !ok {
		return models.Tool{}, ErrToolNotFound
	}
	next, entry, err := SetStatus(cur, actor, status, s.Now(), comment, s.NewID())
	if err != nil {
		metrics.IncTransition(string(models.ActionStatusChange), "rejected")
		return cur, err
	}
	if entry == nil {
		return cur, nil
	}
	return s.commit(ctx, models.ActionStatusChange, cur, next, entry)
}

func (s *Service) commit(ctx context.Context, action models.LogAction, cur, next models.Tool, entry *models.ToolLog) (models.Tool, error) {
	err := s.Store.CommitTool(ctx, next, cur.Version, entry)
	switch {
	case err == nil:
		next.Version = cur.Version + 1
		metrics.IncTransition(string(action), "ok")
	case db.IsAbsent(err):
		// local-only: memory is the only copy
		next.Version = cur.Version
		metrics.IncTransition(string(action), "local")
	case errors.Is(err, db.ErrVersionConflict):
		metrics.IncTransition(string(action), "conflict")
		slog.Warn("tool changed remotely", "tool", cur.ID, "action", action, "version", cur.Version)
		s.refresh(ctx, cur)
		return models.Tool{}, ErrConflict
	default:
		metrics.IncTransition(string(action), "failed")
		metrics.IncStoreWriteFailure("tool")
		slog.Error("commit tool failed", "tool", cur.ID, "action", action, "err", err)
		return models.Tool{}, fmt.Errorf("%w: %w", db.ErrWriteFailed, err)
	}
	s.Inv.put(next)
	return next, nil
}

// refresh reloads one tool after a lost compare-and-swap. A tool the store
// does not know yet (seed failed earlier) is written back from memory.
func (s *Service) refresh(ctx context.Context, cur models.Tool) {
	fresh, err := s.Store.FetchTool(ctx, cur.ID)
	switch {
	case err == nil:
		s.Inv.put(fresh)
	case errors.Is(err, db.ErrNotFound):
		cur.Version = 0
		if err := s.Store.UpsertTool(ctx, cur); err != nil {
			slog.Error("re-seed missing tool failed", "tool", cur.ID, "err", err)
			return
		}
		s.Inv.put(cur)
	default:
		slog.Error("refresh tool failed", "tool", cur.ID, "err", err)
	}
}

// Queries

func (s *Service) List() []models.Tool { return s.Inv.List() }

func (s *Service) Get(id string) (models.Tool, error) {
	t, ok := s.Inv.Get(id)
	if !ok {
		return models.Tool{}, ErrToolNotFound
	}
	return t, nil
}

// BookedOutBy lists the tools currently held by userID, oldest booking first.
func (s *Service) BookedOutBy(userID string) []models.Tool {
	out := make([]models.Tool, 0)
	for _, t := range s.Inv.List() {
		if t.Status == models.StatusBookedOut && t.HolderID != nil && *t.HolderID == userID {
			out = append(out, t)
		}
	}
	sortByBookedAt(out)
	return out
}

func (s *Service) AllBookings() []models.Tool {
	out := make([]models.Tool, 0)
	for _, t := range s.Inv.List() {
		if t.Status == models.StatusBookedOut {
			out = append(out, t)
		}
	}
	sortByBookedAt(out)
	return out
}

func sortByBookedAt(ts []models.Tool) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].BookedAt, ts[j].BookedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})
}

type Summary struct {
	Total    int                       `json:"total"`
	ByStatus map[models.ToolStatus]int `json:"byStatus"`
	Holders  map[string]int            `json:"holders"`
}

func (s *Service) Summary() Summary {
	sum := Summary{
		ByStatus: map[models.ToolStatus]int{
			models.StatusAvailable:   0,
			models.StatusBookedOut:   0,
			models.StatusUnderRepair: 0,
			models.StatusDefective:   0,
		},
		Holders: map[string]int{},
	}
	for _, t := range s.Inv.List() {
		sum.Total++
		sum.ByStatus[t.Status]++
		if t.HolderName != nil {
			sum.Holders[*t.HolderName]++
		}
	}
	return sum
}
