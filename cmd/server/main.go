package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"psychometric/sessions/internal/clients"
	"psychometric/sessions/internal/config"
	"psychometric/sessions/internal/db"
	sessionsgrpc "psychometric/sessions/internal/grpc"
	internalhttp "psychometric/sessions/internal/http"
	"psychometric/sessions/internal/jobs"
	"psychometric/sessions/internal/metrics"
	"psychometric/sessions/internal/reconcile"
	"psychometric/sessions/internal/reports"
	"psychometric/sessions/internal/resolver"
	"psychometric/sessions/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}
	store := db.NewStore(pool)

	var attempts reconcile.AttemptCounter = store
	if cfg.AttemptsGRPCAddr != "" {
		client, err := clients.DialAttempts(ctx, cfg.AttemptsGRPCAddr, cfg.ServiceAuthToken, cfg.GRPCDialTimeout)
		if err != nil {
			log.Fatalf("grpc dial failed: %v", err)
		}
		defer client.Close()
		attempts = client
	}

	var reportStore *reports.RedisStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		reportStore = reports.NewRedisStore(redisClient, cfg.ReportTTL)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	reconciler := reconcile.New(store, attempts, reconcile.Config{
		AttemptTimeout: cfg.AttemptLookupTimeout,
		Metrics:        m,
	})
	schedulerCfg := jobs.Config{
		Interval: cfg.ReconcileInterval,
		Timeout:  cfg.ReconcileTimeout,
		Metrics:  m,
	}
	var lastReports internalhttp.ReportReader
	if reportStore != nil {
		schedulerCfg.Recorder = reportStore
		lastReports = reportStore
	}
	scheduler := jobs.NewScheduler(reconciler, schedulerCfg)
	sessions := resolver.New(store, session.Evaluator{EntryGrace: cfg.EntryGrace}, m)

	server, err := internalhttp.NewServer(cfg, sessions, scheduler, lastReports)
	if err != nil {
		log.Fatalf("server init failed: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serviceAuthInterceptor, err := sessionsgrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
	if err != nil {
		log.Fatalf("grpc service auth init failed: %v", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(serviceAuthInterceptor))
	sessionsgrpc.Register(grpcServer, sessionsgrpc.NewSessionServer(sessions, scheduler))

	if cfg.ReconcileEnabled {
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("reconcile scheduler start failed: %v", err)
		}
		log.Printf("session reconcile scheduled every %s", cfg.ReconcileInterval)
	}

	go func() {
		log.Printf("sessions http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen error: %v", err)
		}
		log.Printf("sessions grpc listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("grpc server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	grpcServer.GracefulStop()
	scheduler.Stop()
}
