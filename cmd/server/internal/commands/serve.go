package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rollcall-io/rollcall/internal/httpapi"
	"github.com/rollcall-io/rollcall/internal/logger"
	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/notify"
	"github.com/rollcall-io/rollcall/internal/server"
	"github.com/rollcall-io/rollcall/internal/session"
	"github.com/rollcall-io/rollcall/internal/store"
	"github.com/rollcall-io/rollcall/internal/store/memory"
	"github.com/rollcall-io/rollcall/internal/store/postgres"
	"github.com/rollcall-io/rollcall/internal/telemetry"
)

type ServeCmd struct {
	Listen           string        `help:"Listen address." default:"localhost:8080" env:"ROLLCALL_LISTEN"`
	Backend          string        `help:"Storage backend for the attendance ledger." enum:"memory,postgres" default:"memory" env:"ROLLCALL_BACKEND"`
	ConnString       string        `help:"PostgreSQL connection string (postgres backend)." env:"ROLLCALL_CONN_STRING"`
	RotationInterval time.Duration `help:"Period between credential token rotations." default:"5s" env:"ROLLCALL_ROTATION_INTERVAL"`
	SessionWindow    time.Duration `help:"Total lifetime of an attendance session." default:"30s" env:"ROLLCALL_SESSION_WINDOW"`
	Subjects         []string      `help:"Subjects to seed the catalog with, as CODE=Name pairs." env:"ROLLCALL_SUBJECTS"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Dev)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		ledger   store.AttendanceStore
		subjects store.SubjectStore
	)
	switch s.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{
			ConnString:  s.ConnString,
			AutoMigrate: true,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		ledger = postgres.NewAttendanceStore(pool)
		subjects = postgres.NewSubjectStore(pool)
	default:
		ledger = memory.NewAttendanceStore()
		subjects = memory.NewSubjectStore()
	}

	if err := seedSubjects(ctx, subjects, s.Subjects); err != nil {
		return err
	}

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	broker := notify.NewBroker(log)
	registry := session.NewRegistry(session.Config{
		RotationInterval: s.RotationInterval,
		SessionWindow:    s.SessionWindow,
	}, ledger, broker, metrics, log)
	defer registry.Shutdown()

	svc := server.NewAttendanceService(registry, subjects, ledger, broker, metrics, log)
	router := httpapi.NewRouter(svc, prometheus.DefaultGatherer, log)

	srv := configureHTTPServer(s.Listen, router)

	log.Info().
		Str("version", globals.Version).
		Str("listen", s.Listen).
		Str("backend", s.Backend).
		Dur("rotation_interval", s.RotationInterval).
		Dur("session_window", s.SessionWindow).
		Msg("Starting attendance server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedSubjects loads CODE=Name pairs into the catalog. A bare CODE uses the
// code as its display name.
func seedSubjects(ctx context.Context, subjects store.SubjectStore, pairs []string) error {
	for _, pair := range pairs {
		code, name, found := strings.Cut(pair, "=")
		code = strings.TrimSpace(code)
		if code == "" {
			return fmt.Errorf("invalid subject seed %q", pair)
		}
		if !found || strings.TrimSpace(name) == "" {
			name = code
		}
		if err := subjects.Put(ctx, &models.Subject{Code: code, Name: strings.TrimSpace(name)}); err != nil {
			return fmt.Errorf("failed to seed subject %q: %w", code, err)
		}
	}
	return nil
}
