package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivallejo/coffee-sub000/config"
	"github.com/ivallejo/coffee-sub000/internal/api"
	"github.com/ivallejo/coffee-sub000/internal/broker"
	"github.com/ivallejo/coffee-sub000/internal/redisclient"
	"github.com/ivallejo/coffee-sub000/internal/service"
	"github.com/ivallejo/coffee-sub000/internal/store"
	"github.com/ivallejo/coffee-sub000/internal/util"
	"github.com/ivallejo/coffee-sub000/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS core service")

	tp, err := util.InitTracer("pos-core", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPOS)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	allocator := service.NewDocumentAllocator(db)
	consumption := service.NewConsumptionEngine(db, redisClient, eventPublisher,
		cfg.Business.EnforceStockGate, cfg.Business.LowStockThreshold)
	loyalty := service.NewLoyaltyEngine(db, eventPublisher, cfg.Business.LoyaltyPointsRate)
	shifts := service.NewShiftLedger(db, eventPublisher)
	checkout := service.NewCheckout(db, allocator, consumption, loyalty, shifts,
		redisClient, eventPublisher, cfg.Business.TaxRate)

	ctx := context.Background()
	if err := consumption.SyncStockMirror(ctx); err != nil {
		log.Printf("Failed to sync stock mirror to Redis: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPOS, cfg.Kafka.ConsumerGroup)
	reconciler := worker.NewReconciliationWorker(consumer, consumption, db)
	go func() {
		if err := reconciler.Start(workerCtx); err != nil {
			log.Printf("Reconciliation worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkout, shifts, consumption, allocator, loyalty,
		cfg.Business.LowStockThreshold)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	reconciler.Stop()

	log.Println("Server exited")
}
