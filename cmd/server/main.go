package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/handler"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/auth"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/config"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/database"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/logger"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/metrics"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/migrations"
	"github.com/pesio-ai/be-procurement-requests/internal/repository"
	"github.com/pesio-ai/be-procurement-requests/internal/service"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Procurement Requests Service")

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("auth.jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Storage and directory
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.close()

	deps := service.Dependencies{
		Store:    st.requests,
		Identity: st.directory,
		Metrics:  m,
		SLA:      workflow.NewSLAPolicy(cfg.SLA.DefaultHours, cfg.SLA.WarningRatio, cfg.SLA.StatusHours),
		Log:      log,
	}

	// Redis: directory cache and buyer workload counters
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		cached := client.NewCachedDirectory(st.directory, rdb, cfg.Redis.DirectoryTTL, log.Logger)
		// Seeded users may have changed roles or been deactivated since the
		// last start; drop their cached copies.
		for _, id := range st.seeded {
			if err := cached.Invalidate(ctx, id); err != nil {
				log.Warn().Err(err).Str("user_id", id).Msg("Could not invalidate cached directory user")
			}
		}
		deps.Identity = cached
		deps.Workload = client.NewWorkloadCounter(rdb, cfg.Redis.WorkloadPrefix)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	}

	// NATS: notification events
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		deps.Notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger, m)
	} else {
		log.Warn().Msg("nats.url not set, notifications disabled")
	}

	// Initialize services
	services := handler.Services{
		Requests:      service.NewPurchaseRequestService(deps),
		Router:        service.NewApprovalRouter(deps),
		Exceptions:    service.NewBudgetExceptionService(deps),
		Reassignments: service.NewReassignmentService(deps),
		SLA:           service.NewSLAService(deps),
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// HTTP
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("http request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.ping(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	handler.NewHTTPHandler(services, log).Register(r, verifier.Middleware)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(verifier.UnaryServerInterceptor()))
	handler.NewGRPCHandler(services, log.Logger).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if deps.Workload != nil {
		g.Go(func() error {
			return services.Reassignments.RunWorkloadRecompute(gctx, cfg.SLA.RecomputeEvery)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}

// storage is the opened purchase request store and identity directory.
type storage struct {
	requests  service.PurchaseRequestStore
	directory client.DirectorySource
	seeded    []string
	ping      func(ctx context.Context) error
	close     func()
}

// openStore selects the purchase request store and identity directory for the
// configured driver.
func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (*storage, error) {
	seed := seedUsers(cfg.Directory.Users)
	st := &storage{
		ping:  func(context.Context) error { return nil },
		close: func() {},
	}
	for _, u := range seed {
		st.seeded = append(st.seeded, u.ID)
	}

	switch cfg.Store.Driver {
	case "postgres":
		if err := migrations.Up(cfg.Database.DSN()); err != nil {
			return nil, err
		}
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		directory := repository.NewDirectoryRepository(db)
		for _, u := range seed {
			if err := directory.Upsert(ctx, u); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info().Int("seeded_users", len(seed)).Msg("Database connection established")
		st.requests, st.directory = repository.NewPurchaseRequestRepository(db), directory
		st.ping, st.close = db.Ping, db.Close

	case "bolt":
		store, err := repository.OpenBoltStore(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Store.BoltPath).Msg("Bolt store opened")
		st.requests, st.directory = store, repository.NewMemoryDirectory(seed...)
		st.close = func() { _ = store.Close() }

	default:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		st.requests, st.directory = repository.NewMemoryStore(), repository.NewMemoryDirectory(seed...)
	}
	return st, nil
}

func seedUsers(in []config.DirectoryUser) []*repository.DirectoryUser {
	out := make([]*repository.DirectoryUser, 0, len(in))
	for _, u := range in {
		du := &repository.DirectoryUser{
			ID:              u.ID,
			DisplayName:     u.DisplayName,
			Department:      u.Department,
			Branch:          u.Branch,
			BuyerCategories: u.BuyerCategories,
			Active:          u.Active,
		}
		for _, name := range u.Roles {
			if role, ok := workflow.ParseRole(name); ok {
				du.Roles = append(du.Roles, role)
			}
		}
		out = append(out, du)
	}
	return out
}
