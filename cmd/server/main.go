/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the studio booking ledger. Loads configuration,
  builds the store and service, and runs one of the commands below.

COMMANDS:
  serve   HTTP API plus the background expiry sweeper (default)
  sweep   Expire overdue subscriptions once and exit
  seed    Generate the weekly timetable for the next N days

FLAGS:
  --config   Optional YAML file. Every key can be overridden with a
             STUDIO_* variable, e.g. STUDIO_STORE_DRIVER=sqlite.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close the store

EXAMPLES:
  # In-memory store, defaults
  ./server serve

  # SQLite file store on another port
  STUDIO_STORE_DRIVER=sqlite STUDIO_HTTP_ADDR=:3000 ./server serve

  # Nightly expiry from cron
  ./server sweep --config /etc/studio/ledger.yaml

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: Expiry sweeper
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amg/studio-ledger/api"
	"github.com/amg/studio-ledger/config"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Studio booking and membership ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Generate the weekly timetable for the next days",
		RunE:  runSeed,
	}
	seed.Flags().Int("days", 35, "number of days to generate")

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API and expiry sweeper", RunE: runServe},
		&cobra.Command{Use: "sweep", Short: "Expire overdue subscriptions once", RunE: runSweep},
		seed,
	)
	return root
}

func load() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := load()
	if err != nil {
		return err
	}
	defer a.close()

	router := api.NewRouter(a.handler, api.RouterOptions{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		Metrics:        a.metrics,
	})
	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		a.log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if a.sweeper != nil {
		a.sweeper.Start()
		defer a.sweeper.Stop()
	}

	err = g.Wait()
	a.log.Info("server stopped")
	return err
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := load()
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.handler.Service.ExpireOverdue(cmd.Context())
	if err != nil {
		return err
	}
	a.log.Info("sweep finished", "expired", n)
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	days, err := cmd.Flags().GetInt("days")
	if err != nil {
		return err
	}
	if days <= 0 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}

	a, err := load()
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.schedule.Generate(a.handler.Service.Now(), days)
	if err != nil {
		return err
	}
	added, err := a.handler.Service.SeedSchedule(cmd.Context(), sessions)
	if err != nil {
		return err
	}
	a.log.Info("timetable seeded", "days", days, "generated", len(sessions), "added", added)
	return nil
}
