package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bookingagent/internal/agent"
	"bookingagent/internal/api"
	"bookingagent/internal/catalog"
	"bookingagent/internal/config"
	"bookingagent/internal/database"
	"bookingagent/internal/events"
	"bookingagent/internal/knowledge"
	"bookingagent/internal/metrics"
	"bookingagent/internal/notify"
	"bookingagent/internal/otp"
	"bookingagent/internal/report"
	"bookingagent/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API with its background jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	seed, err := knowledge.LoadSeed(cfg.Knowledge.SeedFile)
	if err != nil {
		return fmt.Errorf("load knowledge seed: %w", err)
	}
	if n, err := db.SeedKnowledge(ctx, seed); err != nil {
		return fmt.Errorf("seed knowledge: %w", err)
	} else if n > 0 {
		logger.Info().Int("entries", n).Msg("Knowledge base seeded")
	}

	catalogs := catalog.NewStore(catalog.Default())
	if cfg.Catalog.Path != "" {
		if err := catalog.Watch(ctx, cfg.Catalog.Path, cfg.CatalogReloadInterval(), catalogs, &logger); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	sessions, locker := newSessionStore(cfg, rdb, &logger)

	kb, closeKB, err := newKnowledge(ctx, cfg, db, rdb, &logger)
	if err != nil {
		return err
	}
	defer closeKB()

	gw := newGateway(cfg, &logger)

	bus := events.NewEventBus()
	bus.SubscribeAll(func(e events.Event) error {
		ctxRec, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := db.RecordEvent(ctxRec, e)
		return err
	})

	orch := agent.New(agent.Deps{
		Store:      sessions,
		Locker:     locker,
		Catalog:    catalogs,
		Dispatcher: otp.NewRetryDispatcher(gw, 500*time.Millisecond),
		Saver:      db,
		Knowledge:  kb,
		Events:     bus,
		Logger:     &logger,
	},
		agent.WithTimeout(cfg.CollaboratorTimeout()),
		agent.WithLockWait(cfg.LockWait()),
		agent.WithSessionTTL(cfg.SessionTTL()),
		agent.WithHistoryLimit(cfg.HistoryLimit()),
		agent.WithMaxMessageLength(cfg.MaxMessageLength()),
		agent.WithOffTrackThreshold(cfg.OffTrackThreshold()),
		agent.WithOTP(cfg.OTPExpiry(), cfg.OTPMaxAttempts()),
	)

	sweeper := session.NewSweeper(sessions, cfg.SweepInterval(), &logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Agent:     orch,
		Sessions:  sessions,
		Sweeper:   sweeper,
		Knowledge: db,
		Events:    db,
		Logger:    &logger,
	}, api.Options{
		AdminAPIKey:     cfg.Server.AdminAPIKey,
		RateLimitPerMin: cfg.RateLimitPerMinute(),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv := &http.Server{
			Addr:              cfg.ServerAddress(),
			Handler:           router,
			ReadHeaderTimeout: cfg.ReadTimeout(),
			ReadTimeout:       cfg.ReadTimeout(),
		}
		logger.Info().Str("addr", srv.Addr).Msg("Booking agent API started")
		return serveUntilDone(gctx, srv)
	})
	g.Go(func() error {
		return serveUntilDone(gctx, healthServer(gctx, cfg.HealthCheckPort(), db, sessions))
	})
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			return serveUntilDone(gctx, &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort()), Handler: mux})
		})
	}
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	if cfg.Notify.Enabled {
		relay := notify.NewRelay(notify.Config{
			Interval:      cfg.NotifyInterval(),
			BatchSize:     cfg.Notify.BatchSize,
			RatePerSecond: cfg.Notify.RatePerSecond,
			MaxConcurrent: cfg.Notify.MaxConcurrent,
			JitterMax:     time.Duration(cfg.Notify.JitterMaxMillis) * time.Millisecond,
		}, db, db, gw, &logger)
		g.Go(func() error {
			relay.Start(gctx)
			return nil
		})
	}
	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, &logger)
		g.Go(func() error { return backups.Start(gctx) })
	}
	if cfg.Report.Enabled {
		reports := report.NewService(db, nil, &logger)
		g.Go(func() error { return reports.Start(gctx, cfg.ReportSchedule(), cfg.ReportDir()) })
	}

	err = g.Wait()
	logger.Info().Msg("Booking agent stopped")
	return err
}

// newSessionStore returns the configured store. A Redis store is backed by
// an in-memory fallback and shares turn locks through Redis.
func newSessionStore(cfg *config.Config, rdb *redis.Client, logger *zerolog.Logger) (session.Store, session.Locker) {
	memory := session.NewMemoryStore(cfg.SessionTTL(), session.WithMaxSessions(cfg.Session.MaxSessions))
	if cfg.Session.Store != "redis" || rdb == nil {
		if cfg.Session.Store == "redis" {
			logger.Warn().Msg("session.store is redis but redis.address is empty, using memory")
		}
		return memory, session.NewKeyedMutex()
	}
	primary := session.NewRedisStore(rdb, cfg.SessionTTL())
	return session.NewFailoverStore(primary, memory, logger), session.NewRedisLocker(rdb, cfg.LockTTL())
}

// gateway delivers OTP codes and booking confirmations.
type gateway interface {
	otp.Dispatcher
	notify.Messenger
}

func newGateway(cfg *config.Config, logger *zerolog.Logger) gateway {
	if cfg.OTP.Gateway == "whatsapp" {
		return otp.NewWhatsAppDispatcher(cfg.OTP.BaseURL, cfg.OTP.APIKey, cfg.CollaboratorTimeout())
	}
	logger.Warn().Msg("WhatsApp gateway not configured, messages are only logged")
	return otp.NewLogDispatcher(logger)
}

func newKnowledge(ctx context.Context, cfg *config.Config, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) (*knowledge.Service, func(), error) {
	closeFn := func() {}
	var gen knowledge.Generator
	if cfg.Knowledge.Enabled && cfg.Knowledge.APIKey != "" {
		g, err := knowledge.NewGeminiGenerator(ctx, cfg.Knowledge.APIKey, cfg.KnowledgeModel())
		if err != nil {
			return nil, closeFn, fmt.Errorf("create gemini client: %w", err)
		}
		gen = g
		closeFn = func() { _ = g.Close() }
		logger.Info().Str("model", cfg.KnowledgeModel()).Msg("Knowledge answers use Gemini")
	}
	kb := knowledge.NewService(db, gen, logger)
	if rdb != nil && cfg.KnowledgeCacheTTL() > 0 {
		kb.UseRedisCache(rdb, cfg.KnowledgeCacheTTL())
	}
	return kb, closeFn, nil
}

func healthServer(ctx context.Context, port int, db *database.DB, sessions session.Store) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if err := sessions.Ping(ctxPing); err != nil {
			http.Error(w, "session store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}

// serveUntilDone runs srv until ctx ends, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	return <-errCh
}
