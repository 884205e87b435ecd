package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"toolcustody/account"
	"toolcustody/custody"
	"toolcustody/db"
	"toolcustody/metrics"

	"github.com/robfig/cron/v3"
)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Reloader periodically replaces the working sets with the store's copy.
// A failed fetch keeps what is in memory.
type Reloader struct {
	Store     db.Store
	Inventory *custody.Inventory
	Directory *account.Directory
	Timeout   time.Duration
	// SeedWhenEmpty writes the in-memory set back when the store turns out
	// empty, e.g. after the start-up seed could not reach it.
	SeedWhenEmpty bool

	c *cron.Cron
}

func NewReloader(store db.Store, inv *custody.Inventory, dir *account.Directory) *Reloader {
	return &Reloader{Store: store, Inventory: inv, Directory: dir, Timeout: 30 * time.Second}
}

func (r *Reloader) Reload(ctx context.Context) error {
	if s, ok := r.Store.(schemaEnsurer); ok {
		if err := s.EnsureSchema(ctx); err != nil {
			if db.IsAbsent(err) {
				return nil
			}
			return err
		}
	}
	// 记录拉取前的写入位置，拉取期间的本地提交不会被旧数据覆盖
	toolMark, userMark := r.Inventory.Mark(), r.Directory.Mark()
	tools, err := r.Store.FetchTools(ctx)
	if db.IsAbsent(err) {
		return nil
	}
	if err != nil {
		metrics.SetStoreMode(false)
		return fmt.Errorf("reload tools: %w", err)
	}
	users, err := r.Store.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("reload users: %w", err)
	}
	if len(tools) == 0 && r.SeedWhenEmpty && r.Inventory.Len() > 0 {
		tools = r.Inventory.List()
		seed("tools", r.Store.SeedTools(ctx, tools))
	}
	if len(users) == 0 && r.SeedWhenEmpty && r.Directory.Len() > 0 {
		users = r.Directory.All()
		seed("users", r.Store.SeedUsers(ctx, users))
	}
	r.Inventory.ReplaceSince(tools, toolMark)
	r.Directory.ReplaceSince(users, userMark)
	metrics.SetStoreMode(true)
	slog.Debug("working set reloaded", "tools", len(tools), "users", len(users))
	return nil
}

// Start schedules Reload with a cron spec such as "@every 5m".
func (r *Reloader) Start(spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()
		if err := r.Reload(ctx); err != nil {
			slog.Warn("reload failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reload schedule %q: %w", spec, err)
	}
	c.Start()
	r.c = c
	slog.Info("reload scheduled", "spec", spec)
	return nil
}

func (r *Reloader) Stop() {
	if r.c != nil {
		<-r.c.Stop().Done()
	}
}
