package db

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"toolcustody/models"
)

// Each logical attribute is read from the first candidate column that is
// present and non-null. Older deployments used the later names.
var (
	toolNameKeys       = []string{"name", "tool_name", "title", "display_name"}
	toolCategoryKeys   = []string{"category", "type", "tool_type"}
	toolStatusKeys     = []string{"status", "state"}
	toolHolderIDKeys   = []string{"current_holder_id", "holder_id", "current_user_id"}
	toolHolderNameKeys = []string{"current_holder_name", "holder_name", "current_user_name"}
	toolSiteKeys       = []string{"current_site", "site", "location"}
	toolPhotoKeys      = []string{"main_photo", "photo", "image_url"}
	toolNotesKeys      = []string{"notes", "note", "description"}
	toolPurchaseKeys   = []string{"purchase_date", "date_of_purchase", "purchased_at"}
	toolCountKeys      = []string{"item_count", "number_of_items", "quantity"}
	toolSerialKeys     = []string{"serial_number", "serial"}
	toolBookedAtKeys   = []string{"booked_at", "checked_out_at"}
	toolReturnedKeys   = []string{"last_returned_at", "returned_at"}
	toolLogsKeys       = []string{"logs"}

	userNameKeys       = []string{"name", "full_name", "display_name"}
	userRoleKeys       = []string{"role"}
	userEmailKeys      = []string{"email"}
	userPasswordKeys   = []string{"password", "password_hash"}
	userEnabledKeys    = []string{"is_enabled", "enabled", "active"}
	userMustChangeKeys = []string{"must_change_password", "force_password_change"}
)

const (
	defaultToolName  = "Unnamed tool"
	defaultCategory  = "General"
	defaultItemCount = 1
	defaultUserName  = "Unknown"
)

func lookup(row map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case fmt.Stringer:
		return x.String(), true
	case int64, int32, int, float64:
		return fmt.Sprint(x), true
	}
	return "", false
}

func readString(row map[string]any, keys []string, def string) string {
	if v, ok := lookup(row, keys); ok {
		if s, ok := asString(v); ok {
			return s
		}
	}
	return def
}

// readOptString treats empty strings as absent.
func readOptString(row map[string]any, keys []string) *string {
	if v, ok := lookup(row, keys); ok {
		if s, ok := asString(v); ok && strings.TrimSpace(s) != "" {
			return &s
		}
	}
	return nil
}

func readOptTime(row map[string]any, keys []string) *time.Time {
	v, ok := lookup(row, keys)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		t := x.UTC()
		return &t
	case *time.Time:
		if x == nil {
			return nil
		}
		t := x.UTC()
		return &t
	case int64:
		t := time.UnixMilli(x).UTC()
		return &t
	case float64:
		t := time.UnixMilli(int64(x)).UTC()
		return &t
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func readInt(row map[string]any, keys []string, def int) int {
	v, ok := lookup(row, keys)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case float64:
		return int(x)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n
		}
	}
	return def
}

func readBool(row map[string]any, keys []string, def bool) bool {
	v, ok := lookup(row, keys)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return b
		}
	}
	return def
}

// readLegacyLogs decodes the old embedded logs column (json text or jsonb).
func readLegacyLogs(row map[string]any) []models.ToolLog {
	v, ok := lookup(row, toolLogsKeys)
	if !ok {
		return nil
	}
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		raw = b
	}
	var logs []models.ToolLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		slog.Warn("ignore unreadable legacy logs column", "err", err)
		return nil
	}
	return logs
}

func toolFromRow(row map[string]any) models.Tool {
	t := models.Tool{
		ID:             readString(row, []string{"id"}, ""),
		Name:           readString(row, toolNameKeys, defaultToolName),
		Category:       readString(row, toolCategoryKeys, defaultCategory),
		Status:         models.ToolStatus(strings.ToUpper(readString(row, toolStatusKeys, string(models.StatusAvailable)))),
		HolderID:       readOptString(row, toolHolderIDKeys),
		HolderName:     readOptString(row, toolHolderNameKeys),
		CurrentSite:    readOptString(row, toolSiteKeys),
		MainPhoto:      readOptString(row, toolPhotoKeys),
		Notes:          readString(row, toolNotesKeys, ""),
		PurchaseDate:   readOptTime(row, toolPurchaseKeys),
		ItemCount:      readInt(row, toolCountKeys, defaultItemCount),
		SerialNumber:   readString(row, toolSerialKeys, ""),
		BookedAt:       readOptTime(row, toolBookedAtKeys),
		LastReturnedAt: readOptTime(row, toolReturnedKeys),
		Logs:           readLegacyLogs(row),
		Version:        int64(readInt(row, []string{"version"}, 0)),
	}
	if !t.Status.Valid() {
		t.Status = models.StatusAvailable
	}
	if t.ItemCount < 1 {
		t.ItemCount = defaultItemCount
	}
	normalizeHolder(&t)
	return t
}

// normalizeHolder enforces "holder present iff booked out" on data written
// by older clients.
func normalizeHolder(t *models.Tool) {
	if t.Status == models.StatusBookedOut {
		if t.HolderID == nil {
			slog.Warn("booked-out tool without holder, reading as available", "tool", t.ID)
			t.Status = models.StatusAvailable
			t.HolderName, t.BookedAt = nil, nil
		}
		return
	}
	t.HolderID, t.HolderName, t.BookedAt = nil, nil, nil
}

// toolInsertColumns omits nil optional fields so column defaults apply.
func toolInsertColumns(t models.Tool) map[string]any {
	cols := map[string]any{
		"id":            t.ID,
		"name":          t.Name,
		"category":      t.Category,
		"status":        string(t.Status),
		"notes":         t.Notes,
		"item_count":    t.ItemCount,
		"serial_number": t.SerialNumber,
		"version":       t.Version,
	}
	if t.Status == "" {
		cols["status"] = string(models.StatusAvailable)
	}
	if t.ItemCount < 1 {
		cols["item_count"] = defaultItemCount
	}
	if t.Name == "" {
		cols["name"] = defaultToolName
	}
	if t.Category == "" {
		cols["category"] = defaultCategory
	}
	putOpt(cols, "current_holder_id", t.HolderID)
	putOpt(cols, "current_holder_name", t.HolderName)
	putOpt(cols, "current_site", t.CurrentSite)
	putOpt(cols, "main_photo", t.MainPhoto)
	putOptTime(cols, "purchase_date", t.PurchaseDate)
	putOptTime(cols, "booked_at", t.BookedAt)
	putOptTime(cols, "last_returned_at", t.LastReturnedAt)
	return cols
}

// toolUpdateColumns writes cleared optional fields as NULL; a return has to
// be able to clear the holder.
func toolUpdateColumns(t models.Tool) map[string]any {
	cols := toolInsertColumns(t)
	delete(cols, "id")
	for _, k := range []string{
		"current_holder_id", "current_holder_name", "current_site", "main_photo",
		"purchase_date", "booked_at", "last_returned_at",
	} {
		if _, ok := cols[k]; !ok {
			cols[k] = nil
		}
	}
	return cols
}

func putOpt(cols map[string]any, key string, v *string) {
	if v != nil {
		cols[key] = *v
	}
}

func putOptTime(cols map[string]any, key string, v *time.Time) {
	if v != nil {
		cols[key] = v.UTC()
	}
}

func logColumns(toolID string, l models.ToolLog) map[string]any {
	cols := map[string]any{
		"id":        l.ID,
		"tool_id":   toolID,
		"user_id":   l.UserID,
		"user_name": l.UserName,
		"action":    string(l.Action),
		"timestamp": l.Timestamp.UTC(),
	}
	putOpt(cols, "site", l.Site)
	putOpt(cols, "comment", l.Comment)
	putOpt(cols, "photo", l.Photo)
	return cols
}

func logFromRow(r ToolLogRow) models.ToolLog {
	return models.ToolLog{
		ID:        r.ID,
		UserID:    r.UserID,
		UserName:  r.UserName,
		Action:    models.LogAction(r.Action),
		Timestamp: r.Timestamp.UTC(),
		Site:      r.Site,
		Comment:   r.Comment,
		Photo:     r.Photo,
	}
}

func userFromRow(row map[string]any) models.User {
	u := models.User{
		ID:                 readString(row, []string{"id"}, ""),
		Name:               readString(row, userNameKeys, defaultUserName),
		Role:               models.Role(strings.ToUpper(readString(row, userRoleKeys, string(models.RoleUser)))),
		Email:              strings.TrimSpace(readString(row, userEmailKeys, "")),
		Password:           readString(row, userPasswordKeys, ""),
		IsEnabled:          readBool(row, userEnabledKeys, true),
		MustChangePassword: readBool(row, userMustChangeKeys, false),
	}
	if !u.Role.Valid() {
		u.Role = models.RoleUser
	}
	return u
}

func userColumns(u models.User) map[string]any {
	role := u.Role
	if !role.Valid() {
		role = models.RoleUser
	}
	name := u.Name
	if name == "" {
		name = defaultUserName
	}
	return map[string]any{
		"id":                   u.ID,
		"name":                 name,
		"role":                 string(role),
		"email":                strings.TrimSpace(u.Email),
		"password":             u.Password,
		"is_enabled":           u.IsEnabled,
		"must_change_password": u.MustChangePassword,
	}
}

func credentialToRow(c models.Credential) CredentialRow {
	return CredentialRow{
		UserID:          c.UserID,
		CredentialID:    c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		AAGUID:          c.AAGUID,
		SignCount:       c.SignCount,
		CloneWarning:    c.CloneWarning,
		BackupEligible:  c.BackupEligible,
		BackupState:     c.BackupState,
	}
}

func credentialFromRow(r CredentialRow) models.Credential {
	return models.Credential{
		ID:              r.ID,
		UserID:          r.UserID,
		CredentialID:    r.CredentialID,
		PublicKey:       r.PublicKey,
		AttestationType: r.AttestationType,
		AAGUID:          r.AAGUID,
		SignCount:       r.SignCount,
		CloneWarning:    r.CloneWarning,
		BackupEligible:  r.BackupEligible,
		BackupState:     r.BackupState,
		CreatedAt:       r.CreatedAt,
		LastUsedAt:      r.LastUsedAt,
	}
}
