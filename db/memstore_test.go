package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"toolcustody/models"
)

func TestMemStore_CommitToolCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	if err := m.UpsertTools(ctx, models.DefaultTools()); err != nil {
		t.Fatal(err)
	}
	cur, err := m.FetchTool(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}

	next := cur.Clone()
	next.Status = models.StatusBookedOut
	next.HolderID = models.Ptr("U2")
	next.HolderName = models.Ptr("Jonas")
	entry := models.ToolLog{ID: "l-1", UserID: "U2", UserName: "Jonas", Action: models.ActionBookOut, Timestamp: time.Now()}

	if err := m.CommitTool(ctx, next, cur.Version, &entry); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	// same expected version again: someone else already moved it
	if err := m.CommitTool(ctx, next, cur.Version, &entry); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("second commit err = %v", err)
	}

	got, _ := m.FetchTool(ctx, "T1")
	if got.Version != cur.Version+1 {
		t.Errorf("version = %d", got.Version)
	}
	if len(got.Logs) != len(cur.Logs)+1 {
		t.Errorf("logs = %d, want %d", len(got.Logs), len(cur.Logs)+1)
	}
}

func TestMemStore_UpsertKeepsExistingLogs(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	tool := models.DefaultTools()[0]
	if err := m.UpsertTool(ctx, tool); err != nil {
		t.Fatal(err)
	}
	tool.Logs = []models.ToolLog{{ID: "other", Action: models.ActionReturn}}
	if err := m.UpsertTool(ctx, tool); err != nil {
		t.Fatal(err)
	}
	got, _ := m.FetchTool(ctx, tool.ID)
	if len(got.Logs) != 2 || got.Logs[0].Action != models.ActionCreate {
		t.Fatalf("logs = %+v", got.Logs)
	}
}

func TestMemStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	if err := m.UpsertUsers(ctx, models.DefaultUsers()); err != nil {
		t.Fatal(err)
	}
	err := m.UpsertUser(ctx, models.User{ID: "U99", Email: "ADMIN@site.local", Role: models.RoleUser})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v", err)
	}
	// updating the owner of the address is fine
	u := models.DefaultUsers()[0]
	u.Name = "Renamed"
	if err := m.UpsertUser(ctx, u); err != nil {
		t.Fatalf("self update: %v", err)
	}
}

func TestMemStore_Failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.FailReads = ErrUnavailable
	if _, err := m.FetchTools(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchTools err = %v", err)
	}
	m.FailWrites = errors.New("disk full")
	if err := m.UpsertTools(ctx, models.DefaultTools()); err == nil {
		t.Error("expected write failure")
	}
	if m.Writes != 1 {
		t.Errorf("writes = %d", m.Writes)
	}
}

func TestMemStore_EmptyIsNotNil(t *testing.T) {
	tools, err := NewMemStore().FetchTools(context.Background())
	if err != nil || tools == nil || len(tools) != 0 {
		t.Fatalf("tools = %#v err = %v", tools, err)
	}
}
