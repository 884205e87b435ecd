package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolcustody/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTimeout = 5 * time.Second

// Repo is the postgres-backed Store. A Repo without a DB answers every call
// with ErrStoreAbsent.
type Repo struct {
	DB      *gorm.DB
	Timeout time.Duration

	schemaMu    sync.Mutex
	schemaReady bool
}

func NewRepo(db *gorm.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Repo{DB: db, Timeout: timeout}
}

var _ Store = (*Repo)(nil)

func (r *Repo) absent() bool { return r == nil || r.DB == nil }

// 每次访问数据库都带超时，避免网络挂起时请求永远不返回
func (r *Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	t := r.Timeout
	if t <= 0 {
		t = defaultTimeout
	}
	return context.WithTimeout(ctx, t)
}

// Tools

func (r *Repo) FetchTools(ctx context.Context) ([]models.Tool, error) {
	if r.absent() {
		return nil, ErrStoreAbsent
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []map[string]any
	if err := r.DB.WithContext(ctx).Table(ToolTable).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: fetch tools: %w", ErrUnavailable, err)
	}
	var logRows []ToolLogRow
	if err := r.DB.WithContext(ctx).Order("seq").Find(&logRows).Error; err != nil {
		return nil, fmt.Errorf("%w: fetch tool logs: %w", ErrUnavailable, err)
	}
	byTool := make(map[string][]models.ToolLog)
	for _, lr := range logRows {
		byTool[lr.ToolID] = append(byTool[lr.ToolID], logFromRow(lr))
	}

	tools := make([]models.Tool, 0, len(rows))
	for _, row := range rows {
		t := toolFromRow(row)
		if t.ID == "" {
			continue
		}
		if logs, ok := byTool[t.ID]; ok {
			t.Logs = mergeLogs(t.Logs, logs)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func (r *Repo) FetchTool(ctx context.Context, id string) (models.Tool, error) {
	if r.absent() {
		return models.Tool{}, ErrStoreAbsent
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []map[string]any
	if err := r.DB.WithContext(ctx).Table(ToolTable).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return models.Tool{}, fmt.Errorf("%w: fetch tool %s: %w", ErrUnavailable, id, err)
	}
	if len(rows) == 0 {
		return models.Tool{}, ErrNotFound
	}
	t := toolFromRow(rows[0])

	var logRows []ToolLogRow
	if err := r.DB.WithContext(ctx).Where("tool_id = ?", id).Order("seq").Find(&logRows).Error; err != nil {
		return models.Tool{}, fmt.Errorf("%w: fetch tool logs %s: %w", ErrUnavailable, id, err)
	}
	if len(logRows) > 0 {
		logs := make([]models.ToolLog, 0, len(logRows))
		for _, lr := range logRows {
			logs = append(logs, logFromRow(lr))
		}
		t.Logs = mergeLogs(t.Logs, logs)
	}
	return t, nil
}

// UpsertTool inserts or replaces the tool row and inserts any of its log
// entries the store does not have yet.
func (r *Repo) UpsertTool(ctx context.Context, t models.Tool) error {
	return r.UpsertTools(ctx, []models.Tool{t})
}

func (r *Repo) UpsertTools(ctx context.Context, ts []models.Tool) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	if len(ts) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range ts {
			if err := upsertToolRow(tx, t); err != nil {
				return fmt.Errorf("upsert tool %s: %w", t.ID, err)
			}
			for _, l := range t.Logs {
				if err := insertLog(tx, t.ID, l); err != nil {
					return fmt.Errorf("upsert tool %s log %s: %w", t.ID, l.ID, err)
				}
			}
		}
		return nil
	})
}

func (r *Repo) SeedTools(ctx context.Context, ts []models.Tool) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	if len(ts) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range ts {
			res := tx.Table(ToolTable).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
				Create(toolInsertColumns(t))
			if res.Error != nil {
				return fmt.Errorf("seed tool %s: %w", t.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			for _, l := range t.Logs {
				if err := insertLog(tx, t.ID, l); err != nil {
					return fmt.Errorf("seed tool %s log %s: %w", t.ID, l.ID, err)
				}
			}
		}
		return nil
	})
}

func upsertToolRow(tx *gorm.DB, t models.Tool) error {
	cols := toolInsertColumns(t)
	update := make([]string, 0, len(cols))
	for k := range cols {
		if k != "id" {
			update = append(update, k)
		}
	}
	sort.Strings(update)
	return tx.Table(ToolTable).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(update),
		}).
		Create(cols).Error
}

// 日志按 id 去重，已存在的条目不会被改写
func insertLog(tx *gorm.DB, toolID string, l models.ToolLog) error {
	return tx.Table(LogTable).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(logColumns(toolID, l)).Error
}

// CommitTool writes one custody or admin change: a compare-and-swap on the
// tool's version plus the optional log entry, in a single transaction.
// Entries of next.Logs the table does not have yet (read from a legacy logs
// column) are copied in first so they keep their place before entry.
func (r *Repo) CommitTool(ctx context.Context, next models.Tool, expectedVersion int64, entry *models.ToolLog) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	next.Version = expectedVersion + 1
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(ToolTable).
			Where("id = ? AND version = ?", next.ID, expectedVersion).
			Updates(toolUpdateColumns(next))
		if res.Error != nil {
			return fmt.Errorf("update tool %s: %w", next.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		for _, l := range next.Logs {
			if entry != nil && l.ID == entry.ID {
				continue
			}
			if err := insertLog(tx, next.ID, l); err != nil {
				return fmt.Errorf("copy log %s: %w", l.ID, err)
			}
		}
		if entry != nil {
			if err := insertLog(tx, next.ID, *entry); err != nil {
				return fmt.Errorf("append log %s: %w", entry.ID, err)
			}
		}
		return nil
	})
}

// Users

func (r *Repo) FetchUsers(ctx context.Context) ([]models.User, error) {
	if r.absent() {
		return nil, ErrStoreAbsent
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []map[string]any
	if err := r.DB.WithContext(ctx).Table(UserTable).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: fetch users: %w", ErrUnavailable, err)
	}
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		u := userFromRow(row)
		if u.ID == "" || u.Email == "" {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *Repo) UpsertUser(ctx context.Context, u models.User) error {
	return r.UpsertUsers(ctx, []models.User{u})
}

func (r *Repo) UpsertUsers(ctx context.Context, us []models.User) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	if len(us) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range us {
			cols := userColumns(u)
			err := tx.Table(UserTable).
				Clauses(clause.OnConflict{
					Columns: []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"name", "role", "email", "password", "is_enabled", "must_change_password",
					}),
				}).
				Create(cols).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("upsert user %s: %w", u.ID, ErrDuplicateEmail)
			}
			if err != nil {
				return fmt.Errorf("upsert user %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

func (r *Repo) SeedUsers(ctx context.Context, us []models.User) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	if len(us) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range us {
			// id 或 email 已存在都跳过
			err := tx.Table(UserTable).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(userColumns(u)).Error
			if err != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// Credentials

func (r *Repo) AddCredential(ctx context.Context, c models.Credential) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	row := credentialToRow(c)
	return r.DB.WithContext(ctx).Create(&row).Error
}

func (r *Repo) LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	if r.absent() {
		return nil, ErrStoreAbsent
	}
	var rows []CredentialRow
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Credential, 0, len(rows))
	for _, row := range rows {
		out = append(out, credentialFromRow(row))
	}
	return out, nil
}

func (r *Repo) FindUserIDByCredentialID(ctx context.Context, credID []byte) (string, error) {
	if r.absent() {
		return "", ErrStoreAbsent
	}
	var row CredentialRow
	err := r.DB.WithContext(ctx).Where("credential_id = ?", credID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.UserID, nil
}

func (r *Repo) UpdateCredentialCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarn bool) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	return r.DB.WithContext(ctx).Model(&CredentialRow{}).
		Where("credential_id = ?", credID).
		Updates(map[string]any{
			"sign_count":    signCount,
			"clone_warning": cloneWarn,
			"last_used_at":  gorm.Expr("NOW()"),
		}).Error
}
