package custody

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"toolcustody/db"
	"toolcustody/models"
)

func newTestService(t *testing.T, store db.Store, tools ...models.Tool) *Service {
	t.Helper()
	if len(tools) == 0 {
		tools = []models.Tool{availableTool()}
	}
	if err := store.UpsertTools(context.Background(), tools); err != nil && !db.IsAbsent(err) {
		t.Fatal(err)
	}
	svc := NewService(store, NewInventory(tools))
	n := 0
	svc.NewID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	svc.Now = func() time.Time { return t0 }
	return svc
}

func TestService_BookAndReturnScenario(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	svc := newTestService(t, store)

	got, err := svc.BookOut(ctx, jonas, "T1", Details{})
	if err != nil {
		t.Fatalf("book out: %v", err)
	}
	if got.Status != models.StatusBookedOut || *got.HolderID != "U2" || len(got.Logs) != 1 || got.Logs[0].Action != models.ActionBookOut {
		t.Fatalf("after book out: %+v", got)
	}

	if _, err := svc.Return(ctx, tom, "T1", Details{}); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("tom return: err = %v", err)
	}
	cur, _ := svc.Get("T1")
	if cur.Status != models.StatusBookedOut || *cur.HolderID != "U2" || len(cur.Logs) != 1 {
		t.Fatalf("rejected return changed the tool: %+v", cur)
	}

	got, err = svc.Return(ctx, jonas, "T1", Details{})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if got.Status != models.StatusAvailable || got.HolderID != nil || len(got.Logs) != 2 {
		t.Fatalf("after return: %+v", got)
	}
	if got.Logs[0].Action != models.ActionBookOut || got.Logs[1].Action != models.ActionReturn {
		t.Errorf("log actions = %s, %s", got.Logs[0].Action, got.Logs[1].Action)
	}

	stored, err := store.FetchTool(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusAvailable || len(stored.Logs) != 2 || stored.Version != 2 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestService_RejectedBookOutAppendsNothing(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	svc := newTestService(t, store)
	if _, err := svc.BookOut(ctx, jonas, "T1", Details{}); err != nil {
		t.Fatal(err)
	}
	writes := store.Writes
	if _, err := svc.BookOut(ctx, tom, "T1", Details{}); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := svc.Get("T1")
	if len(cur.Logs) != 1 || *cur.HolderID != "U2" {
		t.Errorf("tool changed: %+v", cur)
	}
	if store.Writes != writes {
		t.Error("rejected transition reached the store")
	}
}

func TestService_WriteFailureLeavesMemory(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	svc := newTestService(t, store)
	store.FailWrites = errors.New("connection reset")

	_, err := svc.BookOut(ctx, jonas, "T1", Details{})
	if !errors.Is(err, db.ErrWriteFailed) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := svc.Get("T1")
	if cur.Status != models.StatusAvailable || len(cur.Logs) != 0 {
		t.Errorf("memory changed after failed write: %+v", cur)
	}
}

func TestService_ConflictRefreshes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	svc := newTestService(t, store)

	// another client books T1 first
	remote, _ := store.FetchTool(ctx, "T1")
	other, entry, _ := BookOut(remote, tom, t0, Details{}, "remote-1")
	if err := store.CommitTool(ctx, other, remote.Version, &entry); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.BookOut(ctx, jonas, "T1", Details{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	cur, _ := svc.Get("T1")
	if cur.Status != models.StatusBookedOut || *cur.HolderID != "U4" || cur.Version != remote.Version+1 {
		t.Fatalf("inventory not refreshed: %+v", cur)
	}
	// retry now sees the real state
	if _, err := svc.BookOut(ctx, jonas, "T1", Details{}); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("retry err = %v", err)
	}
}

func TestService_LocalOnlyMode(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, db.NewRepo(nil, 0))

	got, err := svc.BookOut(ctx, jonas, "T1", Details{})
	if err != nil {
		t.Fatalf("absent store must not fail: %v", err)
	}
	if got.Status != models.StatusBookedOut {
		t.Errorf("status = %s", got.Status)
	}
	if _, err := svc.Return(ctx, jonas, "T1", Details{}); err != nil {
		t.Fatalf("return: %v", err)
	}
}

func TestService_Permissions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, db.NewMemStore())
	nobody := models.User{ID: "X", Name: "X", Role: "GUEST"}

	if _, err := svc.BookOut(ctx, nobody, "T1", Details{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("book out err = %v", err)
	}
	if _, err := svc.CreateTool(ctx, jonas, NewTool{Name: "Saw"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("create err = %v", err)
	}
	if _, err := svc.SetStatus(ctx, jonas, "T1", models.StatusDefective, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("set status err = %v", err)
	}
}

func TestService_AdminPaths(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	svc := newTestService(t, store)

	created, err := svc.CreateTool(ctx, admin, NewTool{Name: "  Plate Compactor ", ItemCount: 0})
	if err != nil {
		t.Fatal(err)
	}
	if created.Name != "Plate Compactor" || created.Category != "General" || created.ItemCount != 1 {
		t.Errorf("created = %+v", created)
	}
	if len(created.Logs) != 1 || created.Logs[0].Action != models.ActionCreate {
		t.Errorf("create log = %+v", created.Logs)
	}
	if _, err := store.FetchTool(ctx, created.ID); err != nil {
		t.Errorf("created tool not stored: %v", err)
	}
	if _, err := svc.CreateTool(ctx, admin, NewTool{Name: " "}); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("blank name err = %v", err)
	}

	upd, err := svc.UpdateDetails(ctx, admin, created.ID, DetailsPatch{Notes: models.Ptr("new drum"), CurrentSite: models.Ptr("Lot 7")})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Notes != "new drum" || *upd.CurrentSite != "Lot 7" || len(upd.Logs) != 1 {
		t.Errorf("updated = %+v", upd)
	}

	st, err := svc.SetStatus(ctx, admin, created.ID, models.StatusUnderRepair, nil)
	if err != nil || st.Status != models.StatusUnderRepair || len(st.Logs) != 2 {
		t.Fatalf("set status = %+v, %v", st, err)
	}
	if _, err := svc.BookOut(ctx, jonas, created.ID, Details{}); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("book out under repair err = %v", err)
	}
}

func TestService_Queries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, db.NewMemStore(), models.DefaultTools()...)
	if _, err := svc.BookOut(ctx, jonas, "T1", Details{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.BookOut(ctx, tom, "T2", Details{}); err != nil {
		t.Fatal(err)
	}

	mine := svc.BookedOutBy("U2")
	if len(mine) != 1 || mine[0].ID != "T1" {
		t.Errorf("mine = %+v", mine)
	}
	if all := svc.AllBookings(); len(all) != 2 {
		t.Errorf("all bookings = %d", len(all))
	}
	if none := svc.BookedOutBy("U3"); none == nil || len(none) != 0 {
		t.Errorf("U3 bookings = %#v", none)
	}
	sum := svc.Summary()
	if sum.Total != 6 || sum.ByStatus[models.StatusBookedOut] != 2 || sum.ByStatus[models.StatusUnderRepair] != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, err := svc.Get("nope"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("get err = %v", err)
	}
}

// Random operation sequences keep the holder invariant and never shrink or
// rewrite a tool's log.
func TestService_RandomSequencesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, db.NewMemStore(), models.DefaultTools()...)
	actors := []models.User{jonas, tom, admin}
	statuses := []models.ToolStatus{models.StatusAvailable, models.StatusUnderRepair, models.StatusDefective}
	rng := rand.New(rand.NewSource(7))

	prevLogs := map[string][]models.ToolLog{}
	for _, tool := range svc.List() {
		prevLogs[tool.ID] = tool.Logs
	}

	for i := 0; i < 400; i++ {
		id := fmt.Sprintf("T%d", rng.Intn(6)+1)
		actor := actors[rng.Intn(len(actors))]
		switch rng.Intn(3) {
		case 0:
			_, _ = svc.BookOut(ctx, actor, id, Details{})
		case 1:
			_, _ = svc.Return(ctx, actor, id, Details{})
		case 2:
			_, _ = svc.SetStatus(ctx, admin, id, statuses[rng.Intn(len(statuses))], nil)
		}

		for _, tool := range svc.List() {
			if !tool.HolderConsistent() {
				t.Fatalf("step %d: holder invariant broken on %s: %+v", i, tool.ID, tool)
			}
			prev := prevLogs[tool.ID]
			if len(tool.Logs) < len(prev) {
				t.Fatalf("step %d: log of %s shrank", i, tool.ID)
			}
			for j := range prev {
				if tool.Logs[j] != prev[j] {
					t.Fatalf("step %d: log %d of %s rewritten", i, j, tool.ID)
				}
			}
			prevLogs[tool.ID] = tool.Logs
		}
	}
}
