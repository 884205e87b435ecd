// app/bootstrap.go
package app

import (
	"context"
	"log/slog"

	"toolcustody/account"
	"toolcustody/db"
	"toolcustody/metrics"
	"toolcustody/models"
)

type BootstrapOptions struct {
	// SeedWhenEmpty treats a reachable but empty collection like a missing
	// one: defaults are used and written back.
	SeedWhenEmpty bool
	// Hasher, when set, hashes the default users' passwords before use.
	Hasher account.Hasher
}

type BootstrapResult struct {
	Tools []models.Tool
	Users []models.User

	// Remote is true when the tool collection came from the store.
	Remote      bool
	SeededTools bool
	SeededUsers bool
}

// Bootstrap 启动时的一次性加载：拉取用户和工具，缺失时用内置默认值并回写。
// Each collection decides on its own. Errors are logged and never abort;
// there is no retry here.
func Bootstrap(ctx context.Context, store db.Store, opts BootstrapOptions) BootstrapResult {
	var res BootstrapResult

	tools, err := store.FetchTools(ctx)
	switch {
	case err != nil:
		logFetch("tools", err)
		res.Tools, res.SeededTools = models.DefaultTools(), true
	case len(tools) == 0 && opts.SeedWhenEmpty:
		slog.Info("store has no tools, seeding defaults")
		res.Tools, res.SeededTools, res.Remote = models.DefaultTools(), true, true
	default:
		res.Tools, res.Remote = tools, true
	}
	if res.SeededTools {
		seed("tools", store.SeedTools(ctx, res.Tools))
	}

	users, err := store.FetchUsers(ctx)
	switch {
	case err != nil:
		logFetch("users", err)
		res.Users, res.SeededUsers = defaultUsers(opts.Hasher), true
	case len(users) == 0 && opts.SeedWhenEmpty:
		slog.Info("store has no users, seeding defaults")
		res.Users, res.SeededUsers = defaultUsers(opts.Hasher), true
	default:
		res.Users = users
	}
	if res.SeededUsers {
		seed("users", store.SeedUsers(ctx, res.Users))
	}

	metrics.SetStoreMode(res.Remote)
	slog.Info("bootstrap done",
		"tools", len(res.Tools), "users", len(res.Users), "remote", res.Remote,
		"seeded_tools", res.SeededTools, "seeded_users", res.SeededUsers)
	return res
}

func logFetch(what string, err error) {
	if db.IsAbsent(err) {
		slog.Info("no remote store, using built-in "+what, "mode", "local")
		return
	}
	slog.Warn("fetch "+what+" failed, using built-in defaults", "err", err)
}

func seed(what string, err error) {
	switch {
	case err == nil:
		slog.Info("seeded " + what)
	case db.IsAbsent(err):
		// local-only
	default:
		slog.Warn("seed "+what+" failed", "err", err)
	}
}

func defaultUsers(h account.Hasher) []models.User {
	users := models.DefaultUsers()
	if h == nil {
		return users
	}
	for i := range users {
		hashed, err := h.Hash(users[i].Password)
		if err != nil {
			slog.Error("hash default password", "user", users[i].ID, "err", err)
			continue
		}
		users[i].Password = hashed
	}
	return users
}
