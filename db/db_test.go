package db

import (
	"reflect"
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

func TestBackfillSQL_PreferredColumnWritesLast(t *testing.T) {
	present := map[string]bool{"tool_name": true, "title": true}
	got := backfillSQL(ToolTable, backfill{"name", toolNameKeys[1:], "text"}, func(c string) bool { return present[c] })
	want := []string{
		`UPDATE "tools" SET "name" = CAST("title" AS text) WHERE "title" IS NOT NULL`,
		`UPDATE "tools" SET "name" = CAST("tool_name" AS text) WHERE "tool_name" IS NOT NULL`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestBackfillSQL_Kinds(t *testing.T) {
	all := func(string) bool { return true }

	st := backfillSQL(ToolTable, backfill{"status", []string{"state"}, "upper"}, all)
	if len(st) != 1 || st[0] != `UPDATE "tools" SET "status" = UPPER(CAST("state" AS text)) WHERE "state" IS NOT NULL` {
		t.Errorf("status = %q", st)
	}
	n := backfillSQL(ToolTable, backfill{"item_count", []string{"quantity"}, "int"}, all)
	if len(n) != 1 || n[0] != `UPDATE "tools" SET "item_count" = CAST("quantity" AS text)::integer WHERE CAST("quantity" AS text) ~ '^[0-9]+$'` {
		t.Errorf("item_count = %q", n)
	}
	b := backfillSQL(UserTable, backfill{"is_enabled", []string{"active"}, "bool"}, all)
	if len(b) != 1 || b[0] != `UPDATE "users" SET "is_enabled" = CAST("active" AS text)::boolean WHERE LOWER(CAST("active" AS text)) IN ('t','f','true','false','1','0','yes','no')` {
		t.Errorf("is_enabled = %q", b)
	}
	if none := backfillSQL(ToolTable, backfill{"notes", toolNotesKeys[1:], "text"}, func(string) bool { return false }); len(none) != 0 {
		t.Errorf("no legacy columns, got %q", none)
	}
}

// Tables that may already exist with legacy rows must only gain NOT NULL
// columns that have a default, or postgres rejects the ALTER TABLE.
func TestLegacyTablesNotNullColumnsHaveDefaults(t *testing.T) {
	for _, model := range []any{&ToolRow{}, &UserRow{}} {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range s.Fields {
			if f.NotNull && !f.PrimaryKey && !f.HasDefaultValue {
				t.Errorf("%s.%s is NOT NULL without a default", s.Table, f.DBName)
			}
		}
	}
}
