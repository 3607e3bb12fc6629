package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vkyc/internal/agent"
	"vkyc/internal/biometric"
	biometricmetrics "vkyc/internal/biometric/metrics"
	"vkyc/internal/customer"
	"vkyc/internal/link"
	"vkyc/internal/platform/config"
	"vkyc/internal/platform/httpserver"
	"vkyc/internal/platform/logger"
	"vkyc/internal/platform/postgres"
	redisplatform "vkyc/internal/platform/redis"
	"vkyc/internal/recording"
	recordingmetrics "vkyc/internal/recording/metrics"
	"vkyc/internal/session"
	sessionmetrics "vkyc/internal/session/metrics"
	"vkyc/internal/signaling"
	signalingmetrics "vkyc/internal/signaling/metrics"
	httptransport "vkyc/internal/transport/http"
	"vkyc/internal/verification"
	verificationmetrics "vkyc/internal/verification/metrics"
	"vkyc/pkg/domain"
)

const (
	schedulerInterval      = 15 * time.Second
	biometricFlushInterval = 2 * time.Second
	shutdownTimeout        = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// run wires the stores, the verification pipeline, the session engine, and
// the two transports, then drives them until a shutdown signal arrives.
func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	stores, err := buildStores(ctx, db)
	if err != nil {
		return err
	}

	var linkStore link.Store = link.NewInMemoryStore()
	if redisClient != nil {
		linkStore = link.NewRedisStore(redisClient.Client)
	}
	links := link.NewIssuer(linkStore, cfg.PublicBaseURL, cfg.LinkTTL, log)

	ocr := verification.NewHTTPOCRClient(cfg.OCRBaseURL, cfg.OCRTimeout)
	registry := verification.NewHTTPRegistryClient(cfg.RegistryBaseURL, cfg.RegistryAPIKey, cfg.RegistryTimeout)
	pipeline := verification.NewPipeline(ocr, registry, stores.results, verification.Config{
		ConfidenceThreshold: cfg.OCRConfidenceThreshold,
		MaxAttempts:         cfg.OCRMaxAttempts,
		RegistryMaxRetries:  cfg.RegistryMaxRetries,
		RegistryBackoff:     cfg.RegistryBackoff,
		OCRTimeout:          cfg.OCRTimeout,
		RegistryTimeout:     cfg.RegistryTimeout,
	}, log, verificationmetrics.New())

	var artifacts recording.ArtifactStore = recording.NewInMemoryArtifactStore()
	if cfg.S3.Bucket != "" {
		artifacts, err = recording.NewS3ArtifactStore(ctx, recording.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			BaseEndpoint: cfg.S3.BaseEndpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("connect s3: %w", err)
		}
	}
	recorder := recording.NewManager(artifacts, stores.recordings, recording.GzipCompressor{},
		cfg.RecordingCap, cfg.S3.Prefix, log, recordingmetrics.New())

	telemetry := biometric.NewLogger(stores.biometric, cfg.BiometricQueueSize,
		biometricFlushInterval, log, biometricmetrics.New())

	engine := session.NewEngine(stores.sessions, links, pipeline, pipeline, recorder,
		cfg.SessionExpiry, log, sessionmetrics.New())

	hub := signaling.NewHub(engine, telemetry, recorder, cfg.DisconnectGrace,
		log, signalingmetrics.New())
	engine.SetChannels(hub)
	pipeline.SetCallbacks(
		func(ctx context.Context, id domain.SessionID, doc domain.DocumentType, status verification.Status) {
			engine.HandleVerificationOutcome(ctx, id, doc, status)
			hub.NotifyVerification(id, doc, string(status))
		},
		hub.RequestRecapture,
	)

	// Sessions left mid-call by a previous process must fail before the hub
	// starts accepting reconnects for them.
	if err := engine.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("recover orphaned sessions: %w", err)
	}

	tickets := signaling.NewTicketService(cfg.TicketSigningKey, cfg.TicketTTL)
	wsHandler := signaling.NewHandler(hub, tickets, log)

	ice := make([]httptransport.ICEServer, 0, len(cfg.ICEServers))
	for _, u := range cfg.ICEServers {
		ice = append(ice, httptransport.ICEServer{URLs: []string{u}})
	}

	api := httptransport.New(httptransport.Deps{
		Customers:  stores.customers,
		Links:      links,
		Engine:     engine,
		Results:    pipeline,
		Telemetry:  stores.biometric,
		Recordings: recorder,
		Agents:     stores.agents,
		Tickets:    tickets,
		WSBaseURL:  cfg.WSBaseURL,
		ICEServers: ice,
		Logger:     log,
	})

	checks := make(map[string]httptransport.HealthChecker)
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	if db != nil {
		checks["postgres"] = dbHealth{db}
	}

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(api, wsHandler, checks))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("vkyc server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return telemetry.Run(gctx) })
	g.Go(func() error { return engine.RunScheduler(gctx, schedulerInterval) })
	g.Go(func() error { return engine.RunCapWatcher(gctx, recorder.CapEvents()) })

	err = g.Wait()

	// In-flight verification and uploads get to finish before the stores
	// close.
	pipeline.Wait()
	recorder.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("vkyc server stopped")
	return nil
}

// storeSet holds the persistence backends, postgres when a DSN is
// configured and in-memory otherwise.
type storeSet struct {
	customers  customer.Store
	sessions   session.Store
	results    verification.ResultStore
	biometric  biometric.Store
	recordings recording.Store
	agents     agent.Store
}

func buildStores(ctx context.Context, db *sql.DB) (*storeSet, error) {
	if db == nil {
		return &storeSet{
			customers:  customer.NewInMemoryStore(),
			sessions:   session.NewInMemoryStore(),
			results:    verification.NewInMemoryResultStore(),
			biometric:  biometric.NewInMemoryStore(),
			recordings: recording.NewInMemoryStore(),
			agents:     agent.NewInMemoryStore(),
		}, nil
	}

	customers := customer.NewPostgresStore(db)
	sessions := session.NewPostgresStore(db)
	results := verification.NewPostgresResultStore(db)
	events := biometric.NewPostgresStore(db)
	recordings := recording.NewPostgresStore(db)
	agents := agent.NewPostgresStore(db)

	migrations := []func(context.Context) error{
		customers.Migrate,
		sessions.Migrate,
		results.Migrate,
		events.Migrate,
		recordings.Migrate,
		agents.Migrate,
	}
	for _, migrate := range migrations {
		if err := migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &storeSet{
		customers:  customers,
		sessions:   sessions,
		results:    results,
		biometric:  events,
		recordings: recordings,
		agents:     agents,
	}, nil
}

type dbHealth struct {
	db *sql.DB
}

func (h dbHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
