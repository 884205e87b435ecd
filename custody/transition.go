package custody

import (
	"errors"
	"time"

	"toolcustody/models"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrNotAvailable  = errors.New("tool is not available")
	ErrNotBookedOut  = errors.New("tool is not booked out")
	ErrNotHolder     = errors.New("tool is held by someone else")
	ErrBookedOut     = errors.New("tool is booked out, it must be returned first")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidTool   = errors.New("tool name is required")
	ErrForbidden     = errors.New("not permitted")
	// ErrConflict means another client changed the tool first. The local copy
	// has been refreshed; the caller may retry.
	ErrConflict = errors.New("tool was changed by someone else, please retry")
)

// Details are the optional fields captured with a custody transition.
type Details struct {
	Site    *string `json:"site,omitempty"`
	Comment *string `json:"comment,omitempty"`
	Photo   *string `json:"photo,omitempty"`
}

// logTime is now, unless the tool's last entry is later (clock skew between
// instances); log timestamps never go backwards.
func logTime(logs []models.ToolLog, now time.Time) time.Time {
	now = now.UTC()
	if n := len(logs); n > 0 && logs[n-1].Timestamp.After(now) {
		return logs[n-1].Timestamp.UTC()
	}
	return now
}

func newEntry(id string, actor models.User, action models.LogAction, now time.Time, d Details) models.ToolLog {
	return models.ToolLog{
		ID:        id,
		UserID:    actor.ID,
		UserName:  actor.Name,
		Action:    action,
		Timestamp: now.UTC(),
		Site:      d.Site,
		Comment:   d.Comment,
		Photo:     d.Photo,
	}
}

// BookOut moves an AVAILABLE tool into the actor's custody. On error t is
// returned unchanged and no log is produced.
func BookOut(t models.Tool, actor models.User, now time.Time, d Details, entryID string) (models.Tool, models.ToolLog, error) {
	if t.Status != models.StatusAvailable {
		return t, models.ToolLog{}, ErrNotAvailable
	}
	next := t.Clone()
	next.Status = models.StatusBookedOut
	next.HolderID = models.Ptr(actor.ID)
	next.HolderName = models.Ptr(actor.Name)
	at := logTime(t.Logs, now)
	next.BookedAt = &at
	if d.Site != nil {
		next.CurrentSite = models.Ptr(*d.Site)
	}
	entry := newEntry(entryID, actor, models.ActionBookOut, at, d)
	next.Logs = append(next.Logs, entry)
	return next, entry, nil
}

// Return hands a tool back. Only the current holder may return it.
// LastReturnedAt is left as it was.
func Return(t models.Tool, actor models.User, now time.Time, d Details, entryID string) (models.Tool, models.ToolLog, error) {
	if t.Status != models.StatusBookedOut {
		return t, models.ToolLog{}, ErrNotBookedOut
	}
	if t.HolderID == nil || *t.HolderID != actor.ID {
		return t, models.ToolLog{}, ErrNotHolder
	}
	next := t.Clone()
	next.Status = models.StatusAvailable
	next.HolderID, next.HolderName, next.BookedAt = nil, nil, nil
	if d.Site != nil {
		next.CurrentSite = models.Ptr(*d.Site)
	}
	entry := newEntry(entryID, actor, models.ActionReturn, logTime(t.Logs, now), d)
	next.Logs = append(next.Logs, entry)
	return next, entry, nil
}

// SetStatus is the administrative path between AVAILABLE, UNDER_REPAIR and
// DEFECTIVE. A nil entry means the status did not change.
func SetStatus(t models.Tool, actor models.User, status models.ToolStatus, now time.Time, comment *string, entryID string) (models.Tool, *models.ToolLog, error) {
	if !status.Valid() || status == models.StatusBookedOut {
		return t, nil, ErrInvalidStatus
	}
	if t.Status == models.StatusBookedOut {
		return t, nil, ErrBookedOut
	}
	if t.Status == status {
		return t, nil, nil
	}
	next := t.Clone()
	next.Status = status
	entry := newEntry(entryID, actor, models.ActionStatusChange, logTime(t.Logs, now), Details{Comment: comment})
	next.Logs = append(next.Logs, entry)
	return next, &entry, nil
}

// IsValidation reports whether err is a rule violation rather than a
// persistence problem.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrNotAvailable, ErrNotBookedOut, ErrNotHolder, ErrBookedOut,
		ErrInvalidStatus, ErrInvalidTool,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
