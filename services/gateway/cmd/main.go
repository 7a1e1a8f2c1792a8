package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/weeconnectpay/clover-gateway/common/logger"
	"github.com/weeconnectpay/clover-gateway/common/messaging"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/charge"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/clover"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/config"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/handler"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/logbuffer"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/processor"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/refund"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/store"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/tender"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/token"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/verify"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	// The log buffer is teed into the logger so the admin log surface sees
	// the same stream as stdout.
	logTail := logbuffer.New(cfg.LogTailLines, zapcore.InfoLevel)
	log, err := logger.New("gateway", cfg.Development, logTail)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	// PostgreSQL
	db, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	log.Info("connected to database")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("connected to redis")

	// Kafka audit publisher
	publisher, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, log)
	if err != nil {
		log.Fatal("failed to create kafka publisher", zap.Error(err))
	}
	defer publisher.Close()
	log.Info("kafka publisher initialized")

	// Components
	api := clover.NewClient(cfg.Clover.BaseURL, cfg.Clover.IntegrationVersion, log)

	registry := tender.NewRegistry(log)
	tenderLedger := tender.NewLedger(registry, api, log)
	chargeLedger := charge.NewLedger(log)

	var verifier verify.Verifier
	if cfg.Checkout.RecaptchaEnabled {
		verifier = verify.NewClient(cfg.Checkout.RecaptchaSecret, log)
	}

	proc := processor.New(api, tenderLedger, chargeLedger, verifier, publisher, processor.Config{
		HoneypotEnabled:        cfg.Checkout.HoneypotEnabled,
		RecaptchaEnabled:       cfg.Checkout.RecaptchaEnabled,
		RecaptchaThreshold:     cfg.Checkout.RecaptchaThreshold,
		PostTokenizationChecks: cfg.Checkout.PostTokenizationChecks,
		Production:             cfg.Clover.Production,
		TaxIncluded:            cfg.Checkout.TaxIncluded,
		MergedQty:              cfg.Checkout.MergedQty,
		ShippingLineItemName:   cfg.Checkout.ShippingLineItemName,
		DBPrefix:               cfg.DBPrefix,
		EventTopic:             cfg.EventTopic,
	}, log)

	refunds := refund.New(api, tenderLedger, chargeLedger, publisher, refund.Config{
		Production: cfg.Clover.Production,
		DBPrefix:   cfg.DBPrefix,
		EventTopic: cfg.EventTopic,
	}, log)

	orderStore := store.NewPostgresStore(db)
	tokenStore := token.NewRedisStore(redisClient, "gateway")

	limiter := rate.NewLimiter(rate.Limit(cfg.Checkout.RateLimitPerSecond), cfg.Checkout.RateLimitBurst)
	httpHandler := handler.New(orderStore, proc, refunds, tenderLedger, chargeLedger,
		tokenStore, logTail, limiter, log)

	server := &http.Server{
		Addr:    ":" + cfg.ServicePort,
		Handler: httpHandler.Router(),
	}

	go func() {
		log.Info("http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
