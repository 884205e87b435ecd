package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"toolcustody/account"
	"toolcustody/db"
	"toolcustody/models"
)

func TestBootstrap_AbsentStoreUsesDefaults(t *testing.T) {
	res := Bootstrap(context.Background(), db.NewRepo(nil, 0), BootstrapOptions{SeedWhenEmpty: true})
	if res.Remote {
		t.Error("absent store reported as remote")
	}
	if len(res.Tools) != len(models.DefaultTools()) || len(res.Users) != len(models.DefaultUsers()) {
		t.Fatalf("got %d tools, %d users", len(res.Tools), len(res.Users))
	}
	if !res.SeededTools || !res.SeededUsers {
		t.Error("defaults should be marked as seeded")
	}
}

func TestBootstrap_UnavailableStoreFallsBack(t *testing.T) {
	store := db.NewMemStore()
	store.FailReads = fmt.Errorf("%w: dial tcp: refused", db.ErrUnavailable)
	store.FailWrites = errors.New("dial tcp: refused")

	res := Bootstrap(context.Background(), store, BootstrapOptions{})
	if res.Remote {
		t.Error("unavailable store reported as remote")
	}
	if len(res.Tools) == 0 || len(res.Users) == 0 {
		t.Fatal("fetch failure must fall back to defaults")
	}
	if store.Writes != 2 {
		t.Errorf("seed attempts = %d, want 2", store.Writes)
	}
}

func TestBootstrap_EmptyStore(t *testing.T) {
	ctx := context.Background()

	store := db.NewMemStore()
	res := Bootstrap(ctx, store, BootstrapOptions{SeedWhenEmpty: true, Hasher: account.PlainHasher{}})
	if !res.Remote || !res.SeededTools || !res.SeededUsers {
		t.Fatalf("result = %+v", res)
	}
	tools, _ := store.FetchTools(ctx)
	users, _ := store.FetchUsers(ctx)
	if len(tools) != len(models.DefaultTools()) || len(users) != len(models.DefaultUsers()) {
		t.Fatalf("store has %d tools, %d users after seeding", len(tools), len(users))
	}

	store = db.NewMemStore()
	res = Bootstrap(ctx, store, BootstrapOptions{SeedWhenEmpty: false})
	if len(res.Tools) != 0 || len(res.Users) != 0 || res.SeededTools {
		t.Fatalf("empty store without seeding should stay empty, got %+v", res)
	}
	if store.Writes != 0 {
		t.Errorf("writes = %d, want 0", store.Writes)
	}
}

func TestBootstrap_RemoteSetWins(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	mine := models.Tool{ID: "X1", Name: "Laser level", Category: "Measuring", Status: models.StatusAvailable, ItemCount: 1}
	_ = store.UpsertTool(ctx, mine)
	_ = store.UpsertUsers(ctx, []models.User{{ID: "U9", Name: "Ana", Role: models.RoleAdmin, Email: "ana@site.local", Password: "pw", IsEnabled: true}})
	writes := store.Writes

	res := Bootstrap(ctx, store, BootstrapOptions{SeedWhenEmpty: true})
	if len(res.Tools) != 1 || res.Tools[0].ID != "X1" || len(res.Users) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.SeededTools || res.SeededUsers || store.Writes != writes {
		t.Error("non-empty store must not be seeded")
	}
}

func TestBootstrap_HashesDefaultPasswords(t *testing.T) {
	h := account.BcryptHasher{Cost: 4}
	res := Bootstrap(context.Background(), db.NewRepo(nil, 0), BootstrapOptions{Hasher: h})
	for _, u := range res.Users {
		if u.Password == models.DefaultPassword {
			t.Fatalf("user %s kept a plaintext password", u.ID)
		}
		if ok, _ := h.Verify(u.Password, models.DefaultPassword); !ok {
			t.Fatalf("user %s: hash does not verify", u.ID)
		}
	}
}
