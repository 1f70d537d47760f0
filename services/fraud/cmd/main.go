// Package main is the entry point for Fraud Detection Service
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/frauddetect-platform/pkg/events"
	"github.com/frauddetect-platform/services/fraud/internal/checkpoint"
	"github.com/frauddetect-platform/services/fraud/internal/config"
	"github.com/frauddetect-platform/services/fraud/internal/oracle"
	"github.com/frauddetect-platform/services/fraud/internal/pipeline"
	"github.com/frauddetect-platform/services/fraud/internal/scoring"
	"github.com/frauddetect-platform/services/fraud/internal/store"
	"github.com/frauddetect-platform/services/fraud/internal/velocity"
	"github.com/frauddetect-platform/services/fraud/internal/window"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting fraud service",
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
	)

	// Detector route overlay; a broken overlay is a deployment error
	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		logger.Error("failed to load detector routes", "error", err)
		os.Exit(1)
	}

	// Velocity tracking
	codec := window.NewCodec(cfg.WindowFanOut)
	velocityStore := velocity.NewStore(codec)
	calc := velocity.NewCalculator(velocityStore)

	// Fraud oracle: remote HTTP endpoint when configured, local ONNX otherwise
	var orc oracle.Oracle
	if cfg.OracleURL != "" {
		orc = oracle.NewClient(oracle.ClientConfig{
			BaseURL: cfg.OracleURL,
			Timeout: cfg.OracleTimeout,
		}, logger)
		logger.Info("using remote oracle", "url", cfg.OracleURL)
	} else {
		onnx, err := oracle.NewONNXOracle(oracle.DefaultONNXConfig(cfg.FraudModelPath), logger)
		if err != nil {
			logger.Error("failed to load fraud model", "error", err)
			os.Exit(1)
		}
		defer onnx.Close()
		orc = onnx
	}

	proc := scoring.NewProcessor(orc, scoring.Config{
		OracleTimeout: cfg.OracleTimeout,
		Routes:        routes,
	}, logger)

	// Score publisher (primary output)
	publisher, err := events.NewRabbitMQPublisher(events.DefaultPublisherConfig(cfg.RabbitMQURL), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	sinks := pipeline.MultiSink{publisher}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closed := make(chan struct{})
	close(closed)

	// Optional ClickHouse score archive
	archiveDone := closed
	if cfg.ClickHouseURL != "" {
		opts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
		if err != nil {
			logger.Error("failed to parse ClickHouse URL", "error", err)
			os.Exit(1)
		}
		conn, err := clickhouse.Open(opts)
		if err != nil {
			logger.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		archiver := store.NewScoreArchiver(conn, store.DefaultArchiverConfig(), logger)
		sinks = append(sinks, archiver)

		done := make(chan struct{})
		go func() {
			defer close(done)
			archiver.Run(ctx, store.DefaultArchiverConfig().FlushInterval)
		}()
		archiveDone = done
		logger.Info("connected to ClickHouse")
	}

	// Optional Postgres decision log
	if cfg.PostgresDSN != "" {
		db, err := sqlx.Connect("postgres", cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		sinks = append(sinks, store.NewDecisionRepository(db))
		logger.Info("connected to Postgres")
	}

	// Partitioned pipeline
	runner := pipeline.NewRunner(pipeline.Config{
		Partitions: cfg.Partitions,
		Buffer:     cfg.PartitionBuffer,
	}, calc, proc, sinks, logger)
	runner.Start(ctx)

	// Optional Redis velocity checkpointing
	var redisClient *redis.Client
	checkpointDone := closed
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to Redis")

		ckpt := checkpoint.NewRedisStore(redisClient, logger)
		if err := ckpt.Restore(ctx, velocityStore); err != nil {
			logger.Warn("failed to restore velocity checkpoint", "error", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			ckpt.Run(ctx, velocityStore, cfg.CheckpointInterval)
		}()
		checkpointDone = done
	}

	// Background eviction of idle velocity keys
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := velocityStore.Evict(time.Now()); n > 0 {
					logger.Debug("evicted idle velocity keys", "count", n)
				}
			}
		}
	}()

	// Event intake
	consumer, err := events.NewRabbitMQConsumer(events.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         events.QueueFraudEvents,
		PrefetchCount: cfg.Partitions * cfg.PartitionBuffer,
	}, logger)
	if err != nil {
		logger.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(ctx, runner.HandleRaw); err != nil {
		logger.Error("failed to start consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("consuming fraud events", "queue", events.QueueFraudEvents)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingInterceptor(logger),
			recoveryInterceptor(logger),
		),
	)

	// Register health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("fraud.v1.FraudService", healthpb.HealthCheckResponse_SERVING)

	// Enable reflection
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Create HTTP server
	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"fraud"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready","error":"redis"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Debug endpoints
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Scoring     scoring.Stats `json:"scoring"`
			TrackedKeys int           `json:"trackedKeys"`
		}{
			Scoring:     proc.Stats(),
			TrackedKeys: velocityStore.Len(),
		})
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.SetServingStatus("fraud.v1.FraudService", healthpb.HealthCheckResponse_NOT_SERVING)

	// Stop intake first, then drain the partitions so every accepted event
	// still produces a score, then stop the background loops.
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", "error", err)
	}
	runner.Close()
	cancel()
	<-checkpointDone
	<-archiveDone

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	grpcServer.GracefulStop()

	logger.Info("fraud service stopped")
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// gRPC Interceptors

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)

		if err != nil {
			logger.Info("grpc request",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc request",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}

		return resp, err
	}
}

func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = fmt.Errorf("internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
