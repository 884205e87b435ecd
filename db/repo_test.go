package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toolcustody/models"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return NewRepo(gdb, 0), mock
}

func TestRepo_AbsentMode(t *testing.T) {
	r := NewRepo(nil, 0)
	ctx := context.Background()

	if _, err := r.FetchTools(ctx); !IsAbsent(err) {
		t.Errorf("FetchTools err = %v", err)
	}
	if _, err := r.FetchUsers(ctx); !IsAbsent(err) {
		t.Errorf("FetchUsers err = %v", err)
	}
	if err := r.UpsertTools(ctx, models.DefaultTools()); !IsAbsent(err) {
		t.Errorf("UpsertTools err = %v", err)
	}
	if err := r.CommitTool(ctx, models.Tool{ID: "T1"}, 0, nil); !IsAbsent(err) {
		t.Errorf("CommitTool err = %v", err)
	}
	if err := r.UpsertUser(ctx, models.User{ID: "U1"}); !IsAbsent(err) {
		t.Errorf("UpsertUser err = %v", err)
	}
	var nilRepo *Repo
	if _, err := nilRepo.FetchTool(ctx, "T1"); !IsAbsent(err) {
		t.Errorf("nil repo FetchTool err = %v", err)
	}
}

func TestRepo_FetchToolsUnavailable(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT \* FROM "tools"`).WillReturnError(errors.New("connection refused"))

	_, err := r.FetchTools(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if IsAbsent(err) {
		t.Fatal("unavailable must not look like local-only mode")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepo_FetchToolsEmpty(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT \* FROM "tools"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status"}))
	mock.ExpectQuery(`SELECT \* FROM "tool_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "tool_id"}))

	tools, err := r.FetchTools(context.Background())
	if err != nil {
		t.Fatalf("FetchTools: %v", err)
	}
	if tools == nil || len(tools) != 0 {
		t.Fatalf("tools = %#v, want empty non-nil slice", tools)
	}
}

func TestRepo_FetchToolsLegacyRow(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT \* FROM "tools"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tool_name", "type", "state", "version"}).
			AddRow("T1", "Hammer drill", "Power tools", "AVAILABLE", 2))
	mock.ExpectQuery(`SELECT \* FROM "tool_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "tool_id", "user_id", "user_name", "action", "timestamp"}))

	tools, err := r.FetchTools(context.Background())
	if err != nil {
		t.Fatalf("FetchTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "Hammer drill" || tools[0].Category != "Power tools" || tools[0].Version != 2 {
		t.Fatalf("tools = %+v", tools)
	}
}

func TestRepo_CommitToolVersionConflict(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tools"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := models.Tool{ID: "T1", Name: "Hammer drill", Category: "Power tools", Status: models.StatusAvailable, ItemCount: 1}
	err := r.CommitTool(context.Background(), next, 3, nil)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepo_CommitToolSuccess(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tools"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next := models.Tool{ID: "T1", Name: "Hammer drill", Category: "Power tools", Status: models.StatusAvailable, ItemCount: 1}
	if err := r.CommitTool(context.Background(), next, 3, nil); err != nil {
		t.Fatalf("CommitTool: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepo_FetchToolsMergesLegacyLogs(t *testing.T) {
	r, mock := newMockRepo(t)
	legacy := `[{"id":"A","userId":"U2","userName":"Jonas","action":"BOOK_OUT","timestamp":"2024-01-02T03:04:05Z"},` +
		`{"id":"B","userId":"U2","userName":"Jonas","action":"RETURN","timestamp":"2024-01-03T03:04:05Z"}]`
	at := time.Date(2024, 1, 4, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "tools"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "logs", "version"}).
			AddRow("T1", "Hammer drill", "AVAILABLE", legacy, 3))
	mock.ExpectQuery(`SELECT \* FROM "tool_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "tool_id", "user_id", "user_name", "action", "timestamp"}).
			AddRow(1, "B", "T1", "U2", "Jonas", "RETURN", at.Add(-24*time.Hour)).
			AddRow(2, "C", "T1", "U2", "Jonas", "BOOK_OUT", at))

	tools, err := r.FetchTools(context.Background())
	if err != nil {
		t.Fatalf("FetchTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("tools = %+v", tools)
	}
	var ids []string
	for _, l := range tools[0].Logs {
		ids = append(ids, l.ID)
	}
	if strings.Join(ids, ",") != "A,B,C" {
		t.Fatalf("log ids = %v, want A,B,C", ids)
	}
}

func TestRepo_CommitToolCopiesLegacyLogs(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "tools"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "tool_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "tool_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	old := models.ToolLog{ID: "A", UserID: "U2", UserName: "Jonas", Action: models.ActionReturn, Timestamp: ts}
	entry := models.ToolLog{ID: "N", UserID: "U2", UserName: "Jonas", Action: models.ActionBookOut, Timestamp: ts.Add(time.Hour)}
	next := models.Tool{
		ID: "T1", Name: "Hammer drill", Category: "Power tools", ItemCount: 1,
		Status: models.StatusBookedOut, HolderID: models.Ptr("U2"), HolderName: models.Ptr("Jonas"),
		Logs: []models.ToolLog{old, entry},
	}
	if err := r.CommitTool(context.Background(), next, 3, &entry); err != nil {
		t.Fatalf("CommitTool: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
