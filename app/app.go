package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"toolcustody/account"
	"toolcustody/assistant"
	"toolcustody/config"
	"toolcustody/custody"
	"toolcustody/db"
	"toolcustody/geo"
	"toolcustody/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

// App 聚合各依赖
type App struct {
	Router *gin.Engine
	DB     *gorm.DB // nil in local-only and memory modes
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Config config.Config

	Store      db.Store
	Inventory  *custody.Inventory
	Directory  *account.Directory
	Custody    *custody.Service
	Accounts   *account.Service
	Ceremonies *session.Store
	Enrollment *session.EnrollmentStore
	Presence   *session.Presence
	Assistant  *assistant.Assistant
	Addresses  *geo.Lookup
	Reloader   *Reloader
	AuthLimit  *IPRateLimiter

	closers []func()
}

// New wires every dependency and runs the bootstrap pass. Only a broken
// configuration or an unreachable Redis is an error; a missing or
// unreachable database puts the service in local mode.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, gdb, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store, a.DB = store, gdb

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.RDB = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	// --- WebAuthn RP ---
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.SMTP.AppName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}
	a.WA = wa

	a.Inventory = custody.NewInventory(nil)
	a.Directory = account.NewDirectory(nil)
	a.Custody = custody.NewService(store, a.Inventory)
	a.Ceremonies = session.NewStore(rdb, 5*time.Minute)
	a.Enrollment = session.NewEnrollmentStore(rdb)
	a.Presence = session.NewPresence(rdb, 5*time.Minute)
	a.Accounts = account.NewService(cfg, store, a.Directory,
		session.NewRememberStore(rdb), a.Enrollment, account.NewSMTPMailer(cfg.SMTP))
	// passkeys live in the credentials table, so local-only mode has none
	a.Accounts.BiometricAvailable = cfg.RPID != "" && cfg.StoreDriver != config.StoreNone
	a.Addresses = geo.New(geo.Options{
		PrimaryURL:  cfg.GeocoderPrimaryURL,
		FallbackURL: cfg.GeocoderFallbackURL,
		UserAgent:   cfg.SMTP.AppName,
		CacheTTL:    cfg.GeocoderCacheTTL,
	}, rdb)

	var gen assistant.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := assistant.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Warn("assistant disabled", "err", err)
		} else {
			gen = g
			a.closers = append(a.closers, func() { _ = g.Close() })
		}
	}
	a.Assistant = assistant.New(gen)

	a.Load(ctx)

	a.Reloader = NewReloader(store, a.Inventory, a.Directory)
	a.Reloader.SeedWhenEmpty = cfg.SeedWhenEmpty
	if err := a.Reloader.Start(cfg.ReloadSchedule); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Reloader.Stop)

	a.AuthLimit = AuthRateLimiter()
	// 一个 bucket 空闲 15 分钟后已经回满，可以丢弃
	stopSweep, err := a.AuthLimit.StartSweep("@every 10m", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stopSweep)

	// --- Gin ---
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog())
	useCORS(r, corsOrigins(cfg.WebOrigin, cfg.RPOrigins))
	a.Router = r
	return a, nil
}

// OpenStore picks the persistence backend named by STORE_DRIVER.
func OpenStore(cfg config.Config) (db.Store, *gorm.DB, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		slog.Info("store: in-memory")
		return db.NewMemStore(), nil, nil
	case config.StorePostgres:
		gdb, err := db.Open(cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("store: postgres", "timeout", cfg.StoreTimeout)
		return db.NewRepo(gdb, cfg.StoreTimeout), gdb, nil
	default:
		slog.Info("store: none, running local-only")
		return db.NewRepo(nil, cfg.StoreTimeout), nil, nil
	}
}

// Load runs the bootstrap pass and installs the result as the working set.
func (a *App) Load(ctx context.Context) BootstrapResult {
	if r, ok := a.Store.(*db.Repo); ok {
		if err := r.EnsureSchema(ctx); err != nil && !db.IsAbsent(err) {
			slog.Warn("schema not ready", "err", err)
		}
	}
	res := Bootstrap(ctx, a.Store, BootstrapOptions{
		SeedWhenEmpty: a.Config.SeedWhenEmpty,
		Hasher:        account.HasherFor(a.Config.PasswordMode),
	})
	a.Inventory.Replace(res.Tools)
	a.Directory.Replace(res.Users)
	return res
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
