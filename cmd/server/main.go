// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "inventory-reserve/internal/api/http"
	"inventory-reserve/internal/config"
	"inventory-reserve/internal/domain"
	"inventory-reserve/internal/infra/etcd"
	"inventory-reserve/internal/infra/kafka"
	"inventory-reserve/internal/infra/memory"
	redis_infra "inventory-reserve/internal/infra/redis"
	"inventory-reserve/internal/sweeper"
	"inventory-reserve/internal/tracing"
	"inventory-reserve/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

// corsMiddleware wraps an http.Handler with CORS headers for the campus
// web frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		// Handle pre-flight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("inventory-reserve")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	log.Println("Starting inventory reservation service...")

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Init etcd client
	etcdClient, err := etcd.NewClient(rootCtx, cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	// 6. Pick the lock backend
	var lockStore domain.LockStore
	switch cfg.LockBackend {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		lockStore = redis_infra.NewLockStore(rdb, logger)
		log.Println("Using redis lock backend.")
	default:
		lockStore = memory.NewLockTable()
		log.Println("Using in-memory lock backend.")
	}

	// 7. Instantiate stores and services
	orderStore := etcd.NewOrderStore(etcdClient, logger)
	inventoryStore := etcd.NewInventoryStore(etcdClient, logger)

	reservationService := usecase.NewReservationService(lockStore, inventoryStore, orderStore, cfg.LockTTL, logger)
	orderService := usecase.NewOrderService(orderStore, inventoryStore, lockStore, reservationService, logger)
	paymentService := usecase.NewPaymentService(orderStore, inventoryStore, lockStore, logger)
	opsService := usecase.NewOpsService(lockStore, orderStore, logger)

	// 8. Restore locks for orders still awaiting payment
	if _, err := reservationService.RestoreLocks(rootCtx); err != nil {
		log.Printf("Failed to restore locks for pending orders: %v", err)
	}

	// 9. Start the expiry sweeper
	sw := sweeper.New(orderStore, lockStore, cfg.SweepInterval, cfg.SweepConcurrency, logger)
	if cfg.SweeperEnabled {
		go func() {
			if err := sw.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Sweeper stopped with error: %v", err)
			}
		}()
	}

	// 10. Start the payment event consumer when brokers are configured
	if len(cfg.KafkaBrokers) > 0 {
		consumer := kafka.NewPaymentConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, paymentService, logger)
		go func() {
			if err := consumer.Run(rootCtx); err != nil {
				log.Printf("Payment consumer stopped with error: %v", err)
			}
		}()
	}

	// 11. Register routes and metrics endpoint
	orderHandler := http_api.NewOrderHandler(orderService, logger)
	paymentHandler := http_api.NewPaymentHandler(paymentService, logger)
	adminHandler := http_api.NewAdminHandler(opsService, sw, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	orderHandler.RegisterRoutes(mux)
	paymentHandler.RegisterRoutes(mux)
	adminHandler.RegisterRoutes(mux)

	// 12. Start HTTP API server
	log.Printf("Starting HTTP API server on %s", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:    cfg.HttpListenAddr,
		Handler: corsMiddleware(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 13. Block until shutdown
	<-rootCtx.Done()
	log.Println("Shutting down application gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}

	log.Println("Application shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
