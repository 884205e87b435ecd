package db

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open prepares the postgres pool without touching the network, so an
// unreachable database at start-up is a fetch failure, not a crash.
func Open(dsn string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:               gormLog,
		TranslateError:       true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return conn, nil
}

// backfill copies a legacy column into a canonical one the migration has
// just added. Legacy columns are listed in read priority, highest first.
type backfill struct {
	column string
	legacy []string
	kind   string // text, upper, int, bool
}

var (
	toolBackfills = []backfill{
		{"name", toolNameKeys[1:], "text"},
		{"category", toolCategoryKeys[1:], "text"},
		{"status", toolStatusKeys[1:], "upper"},
		{"notes", toolNotesKeys[1:], "text"},
		{"item_count", toolCountKeys[1:], "int"},
		{"serial_number", toolSerialKeys[1:], "text"},
	}
	userBackfills = []backfill{
		{"name", userNameKeys[1:], "text"},
		{"password", userPasswordKeys[1:], "text"},
		{"is_enabled", userEnabledKeys[1:], "bool"},
		{"must_change_password", userMustChangeKeys[1:], "bool"},
	}
)

// backfillSQL builds the UPDATEs for one added column. The lowest-priority
// legacy column goes first so the preferred one is written last.
func backfillSQL(table string, f backfill, present func(col string) bool) []string {
	var out []string
	for i := len(f.legacy) - 1; i >= 0; i-- {
		col := f.legacy[i]
		if !present(col) {
			continue
		}
		src := fmt.Sprintf(`CAST(%q AS text)`, col)
		expr, cond := src, fmt.Sprintf(`%q IS NOT NULL`, col)
		switch f.kind {
		case "upper":
			expr = "UPPER(" + src + ")"
		case "int":
			expr = src + "::integer"
			cond = src + ` ~ '^[0-9]+$'`
		case "bool":
			expr = src + "::boolean"
			cond = "LOWER(" + src + `) IN ('t','f','true','false','1','0','yes','no')`
		}
		out = append(out, fmt.Sprintf(`UPDATE %q SET %q = %s WHERE %s`, table, f.column, expr, cond))
	}
	return out
}

func Migrate(db *gorm.DB) error {
	m := db.Migrator()
	// 迁移前记下旧表缺少的规范列，迁移后只回填这些列
	added := func(model any, fills []backfill) []backfill {
		if !m.HasTable(model) {
			return nil
		}
		var out []backfill
		for _, f := range fills {
			if !m.HasColumn(model, f.column) {
				out = append(out, f)
			}
		}
		return out
	}
	toolFills := added(&ToolRow{}, toolBackfills)
	userFills := added(&UserRow{}, userBackfills)

	if err := db.AutoMigrate(&ToolRow{}, &ToolLogRow{}, &UserRow{}, &CredentialRow{}); err != nil {
		return err
	}

	for _, set := range []struct {
		model any
		table string
		fills []backfill
	}{{&ToolRow{}, ToolTable, toolFills}, {&UserRow{}, UserTable, userFills}} {
		present := func(col string) bool { return m.HasColumn(set.model, col) }
		for _, f := range set.fills {
			for _, stmt := range backfillSQL(set.table, f, present) {
				if err := db.Exec(stmt).Error; err != nil {
					return fmt.Errorf("backfill %s.%s: %w", set.table, f.column, err)
				}
			}
			slog.Info("legacy column backfilled", "table", set.table, "column", f.column)
		}
	}

	// email 登录名不区分大小写唯一；旧表里没有 email 的行不参与
	if err := db.Exec(fmt.Sprintf(`
	  CREATE UNIQUE INDEX IF NOT EXISTS %s_email_lower
	  ON %s (LOWER(email)) WHERE email <> '';
	`, UserTable, UserTable)).Error; err != nil {
		return err
	}

	// 按工具读取日志时按 seq 顺序
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_tool_seq
	  ON %s (tool_id, seq);
	`, LogTable, LogTable)).Error; err != nil {
		return err
	}
	return nil
}

// EnsureSchema runs the migrations until they succeed once.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if r.absent() {
		return ErrStoreAbsent
	}
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaReady {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := Migrate(r.DB.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrUnavailable, err)
	}
	r.schemaReady = true
	slog.Info("database schema ready")
	return nil
}
