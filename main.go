package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolcustody/account"
	"toolcustody/app"
	"toolcustody/config"
	"toolcustody/db"
	"toolcustody/routes"

	"github.com/spf13/cobra"
)

func main() {
	config.LoadEnv()

	rootCmd := &cobra.Command{
		Use:   "toolcustody",
		Short: "Construction tool custody service",
		// 不带子命令时直接启动服务
		RunE: runServe,
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the default tools and users into an empty store",
		RunE:  runSeed,
	}
	resetCmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Issue a temporary password for a user",
		RunE:  runResetPassword,
	}
	resetCmd.Flags().String("email", "", "email of the user")
	_ = resetCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(serveCmd, seedCmd, resetCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() config.Config {
	cfg := config.Load()
	app.InitLogger(cfg.LogFormat, cfg.LogLevel)
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := setup()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	routes.RegisterRoutes(application.Router, application)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "port", cfg.Port, "store", cfg.StoreDriver, "password_mode", cfg.PasswordMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := setup()
	store, _, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	if r, ok := store.(*db.Repo); ok {
		if err := r.EnsureSchema(cmd.Context()); err != nil {
			if db.IsAbsent(err) {
				return errors.New("no database configured")
			}
			return err
		}
	}
	res := app.Bootstrap(cmd.Context(), store, app.BootstrapOptions{
		SeedWhenEmpty: true,
		Hasher:        account.HasherFor(cfg.PasswordMode),
	})
	if !res.Remote {
		return errors.New("store unavailable, nothing seeded")
	}
	fmt.Printf("tools: %d (seeded %v), users: %d (seeded %v)\n",
		len(res.Tools), res.SeededTools, len(res.Users), res.SeededUsers)
	return nil
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	cfg := setup()
	application, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Accounts.ForgotPassword(cmd.Context(), email)
	if err != nil {
		return err
	}
	if res.TempPassword != "" {
		fmt.Printf("temporary password for %s: %s\n", email, res.TempPassword)
		return nil
	}
	fmt.Printf("temporary password sent to %s\n", email)
	return nil
}
