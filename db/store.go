package db

import (
	"context"
	"errors"

	"toolcustody/models"
)

var (
	// ErrStoreAbsent means no remote store is configured. Callers treat it
	// as local-only mode, never as a failure.
	ErrStoreAbsent = errors.New("remote store not configured")
	// ErrUnavailable wraps read failures so that "could not fetch" stays
	// distinguishable from a legitimately empty collection.
	ErrUnavailable     = errors.New("remote store unavailable")
	ErrVersionConflict = errors.New("tool was changed by someone else")
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateEmail  = errors.New("email already registered")
	// ErrWriteFailed is what services wrap a failed write in; the in-memory
	// copy has not been changed when it is returned.
	ErrWriteFailed = errors.New("could not save, please retry")
)

// Store is the full persistence surface implemented by Repo and MemStore.
type Store interface {
	FetchTools(ctx context.Context) ([]models.Tool, error)
	FetchTool(ctx context.Context, id string) (models.Tool, error)
	UpsertTool(ctx context.Context, t models.Tool) error
	UpsertTools(ctx context.Context, ts []models.Tool) error
	CommitTool(ctx context.Context, next models.Tool, expectedVersion int64, entry *models.ToolLog) error
	// SeedTools inserts the tools whose ids are missing and leaves existing
	// rows alone.
	SeedTools(ctx context.Context, ts []models.Tool) error

	FetchUsers(ctx context.Context) ([]models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
	UpsertUsers(ctx context.Context, us []models.User) error
	SeedUsers(ctx context.Context, us []models.User) error

	AddCredential(ctx context.Context, c models.Credential) error
	LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	FindUserIDByCredentialID(ctx context.Context, credID []byte) (string, error)
	UpdateCredentialCounter(ctx context.Context, credID []byte, signCount uint32, cloneWarn bool) error
}

// IsAbsent reports whether err only signals local-only mode.
func IsAbsent(err error) bool { return errors.Is(err, ErrStoreAbsent) }
