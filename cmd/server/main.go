package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/compliance"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/config"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/database"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/handlers"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/notify"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/services"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/session"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/smoothing"
)

const version = "1.0.0"

func main() {
	httpAddr := pflag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	grpcAddr := pflag.String("grpc-addr", "", "gRPC listen address (overrides GRPC_ADDR)")
	policyFile := pflag.String("policy", "", "YAML policy file (overrides POLICY_FILE)")
	logLevel := pflag.String("log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	migrateOnly := pflag.Bool("migrate", false, "apply database migrations and exit")
	pflag.Parse()

	if err := run(*httpAddr, *grpcAddr, *policyFile, *logLevel, *migrateOnly); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(httpAddr, grpcAddr, policyFile, logLevel string, migrateOnly bool) error {
	if policyFile != "" {
		os.Setenv("POLICY_FILE", policyFile)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	if migrateOnly {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for --migrate")
		}
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		slog.Info("migrations applied", "database", cfg.DSNForLog())
		return nil
	}

	slog.Info("starting ppe compliance engine",
		"version", version,
		"environment", cfg.Environment,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"required_ppe", cfg.Policy.RequiredPPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.NewMetrics()
	recorder := services.NewRecorder(cfg.EventQueueSize, metrics)

	var violations handlers.ViolationLister
	if cfg.DatabaseURL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		store, err := database.InitDB(initCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("database %s: %w", cfg.DSNForLog(), err)
		}
		defer store.Close()
		recorder.AddSink(store)
		violations = store
	} else {
		slog.Warn("DATABASE_URL not set, violations are not persisted")
	}

	var notifierUp handlers.Pinger
	if cfg.MQTTBroker != "" {
		notifier, err := notify.NewMQTTNotifier(notify.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         byte(cfg.MQTTQoS),
			Payload:     cfg.MQTTPayload,
		})
		if err != nil {
			return err
		}
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := notifier.Connect(connCtx); err != nil {
			slog.Warn("mqtt broker unavailable, will keep retrying", "error", err)
		}
		cancel()
		defer notifier.Disconnect()
		recorder.AddSink(notifier)
		notifierUp = notifier.IsConnected
	}

	engine, err := buildEngine(cfg, metrics, recorder)
	if err != nil {
		return err
	}

	hub := handlers.NewHub(metrics, engine.ProcessFrame)
	recorder.AddSink(hub)

	handler := handlers.NewHandler(handlers.Options{
		Engine:      engine,
		Hub:         hub,
		Violations:  violations,
		Notifier:    notifierUp,
		CORSOrigins: cfg.CORSOrigins,
		Version:     version,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := handlers.NewGRPCServer(engine, cfg.MaxMessageSizeMB*1024*1024)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("grpc server listening", "addr", lis.Addr().String())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		return engine.RunReaper(gctx, cfg.SweepInterval())
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		healthServer.Shutdown()
		hub.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		stopGRPC(shutdownCtx, grpcServer)
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped", "stats", engine.Stats())
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func buildEngine(cfg *config.Config, metrics *services.Metrics, recorder *services.Recorder) (*services.Engine, error) {
	canon, err := cfg.Policy.Canonicalizer()
	if err != nil {
		return nil, err
	}
	evaluator := compliance.NewEvaluator(canon, cfg.Policy.RequiredPPE, cfg.Policy.MinItemConfidence)

	smoother, err := smoothing.New(cfg.Policy.SmoothingAlpha)
	if err != nil {
		return nil, err
	}
	store := session.NewStore()
	policy, err := session.NewPolicy(store, cfg.Policy.SessionPolicy())
	if err != nil {
		return nil, err
	}
	reaper, err := session.NewReaper(store, cfg.Policy.GracePeriod())
	if err != nil {
		return nil, err
	}

	return services.NewEngine(services.EngineOptions{
		Evaluator:        evaluator,
		Smoother:         smoother,
		Store:            store,
		Policy:           policy,
		Reaper:           reaper,
		Recorder:         recorder,
		Metrics:          metrics,
		SweepEveryFrames: cfg.SweepEveryFrames,
	})
}

func stopGRPC(ctx context.Context, srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		slog.Warn("forcing grpc shutdown")
		srv.Stop()
	}
}

func setupLogger(cfg *config.Config) error {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.IsDev() {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
