// models/tool.go
package models

import "time"

type ToolStatus string

const (
	StatusAvailable   ToolStatus = "AVAILABLE"
	StatusBookedOut   ToolStatus = "BOOKED_OUT"
	StatusUnderRepair ToolStatus = "UNDER_REPAIR"
	StatusDefective   ToolStatus = "DEFECTIVE"
)

func (s ToolStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBookedOut, StatusUnderRepair, StatusDefective:
		return true
	}
	return false
}

type LogAction string

const (
	ActionBookOut      LogAction = "BOOK_OUT"
	ActionReturn       LogAction = "RETURN"
	ActionCreate       LogAction = "CREATE"
	ActionStatusChange LogAction = "STATUS_CHANGE"
)

// Tool 一件实物设备。状态字段只能经由 custody 包修改。
type Tool struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	SerialNumber   string     `json:"serialNumber,omitempty"`
	ItemCount      int        `json:"numberOfItems"`
	PurchaseDate   *time.Time `json:"dateOfPurchase,omitempty"`
	Notes          string     `json:"notes"`
	MainPhoto      *string    `json:"mainPhoto,omitempty"`
	Status         ToolStatus `json:"status"`
	HolderID       *string    `json:"currentHolderId,omitempty"`
	HolderName     *string    `json:"currentHolderName,omitempty"`
	CurrentSite    *string    `json:"currentSite,omitempty"`
	BookedAt       *time.Time `json:"bookedAt,omitempty"`
	LastReturnedAt *time.Time `json:"lastReturnedAt,omitempty"`
	Logs           []ToolLog  `json:"logs"`

	// Version is the compare-and-swap token of the stored row.
	Version int64 `json:"version"`
}

// ToolLog is immutable once appended.
type ToolLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Action    LogAction `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Site      *string   `json:"site,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	Photo     *string   `json:"photo,omitempty"`
}

// HolderConsistent reports whether the holder fields agree with the status:
// a holder is present if and only if the tool is booked out.
func (t Tool) HolderConsistent() bool {
	return (t.Status == StatusBookedOut) == (t.HolderID != nil)
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Tool) Clone() Tool {
	c := t
	c.PurchaseDate = cloneTime(t.PurchaseDate)
	c.MainPhoto = cloneString(t.MainPhoto)
	c.HolderID = cloneString(t.HolderID)
	c.HolderName = cloneString(t.HolderName)
	c.CurrentSite = cloneString(t.CurrentSite)
	c.BookedAt = cloneTime(t.BookedAt)
	c.LastReturnedAt = cloneTime(t.LastReturnedAt)
	if t.Logs != nil {
		c.Logs = make([]ToolLog, len(t.Logs))
		copy(c.Logs, t.Logs)
	}
	return c
}

// LastAction returns the most recent log entry, if any.
func (t Tool) LastAction() (ToolLog, bool) {
	if len(t.Logs) == 0 {
		return ToolLog{}, false
	}
	return t.Logs[len(t.Logs)-1], true
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T { return &v }
