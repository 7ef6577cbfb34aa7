// Command engine runs the rating and leaderboard service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/resonate-gg/resonate/internal/adapters/repository"
	"github.com/resonate-gg/resonate/internal/adapters/repository/pgstore"
	"github.com/resonate-gg/resonate/internal/app"
	"github.com/resonate-gg/resonate/internal/config"
	"github.com/resonate-gg/resonate/internal/domain/model"
	"github.com/resonate-gg/resonate/internal/leaderboard"
	"github.com/resonate-gg/resonate/internal/reconcile"
	"github.com/resonate-gg/resonate/pkg/logger"
	"github.com/resonate-gg/resonate/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// recordSource adapts the record store to the leaderboard registry.
type recordSource struct {
	store repository.RecordStore
}

func (s recordSource) RecordsByChart(ctx context.Context, chartID uuid.UUID) ([]model.ScoredRecord, error) {
	return s.store.ByChart(ctx, chartID)
}

// teamSource adapts the team store to the leaderboard registry.
type teamSource struct {
	store repository.TeamStore
}

func (s teamSource) TeamsByDivision(ctx context.Context, divisionID uuid.UUID) ([]model.EventTeam, error) {
	return s.store.ByDivision(ctx, divisionID)
}

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	db := pgstore.Connect(cfg.DatabaseDSN)
	defer db.Close()

	records := &pgstore.Records{DB: db}
	teams := &pgstore.Teams{DB: db}
	charts := &pgstore.Charts{DB: db}
	users := &pgstore.Users{DB: db}
	chartVotes := &pgstore.Votes{DB: db}
	social := &pgstore.Social{DB: db}
	edges := &pgstore.Edges{DB: db}

	registry := leaderboard.NewRegistry(
		recordSource{store: records},
		teamSource{store: teams},
		leaderboard.WithMaxBoards(cfg.MaxBoards),
		leaderboard.WithBoardTTL(cfg.BoardTTL),
	)

	svc := app.New(app.Deps{
		Registry: registry,
		Records:  records,
		Charts:   charts,
		Votes:    chartVotes,
		Teams:    teams,
	})

	reconciler := reconcile.New(
		reconcile.Stores{
			Records: records,
			Users:   users,
			Charts:  charts,
			Votes:   chartVotes,
			Social:  social,
			Edges:   edges,
		},
		reconcile.WithBatchSize(cfg.ReconcileBatchSize),
		reconcile.WithTempDir(cfg.TempDir, cfg.TempRetention),
	)
	scheduler := reconcile.NewScheduler(reconciler, reconcile.WithInterval(cfg.ReconcileInterval))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}
