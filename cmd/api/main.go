package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"acctshop-api/internal/bot"
	"acctshop-api/internal/cache"
	"acctshop-api/internal/config"
	"acctshop-api/internal/gateway"
	"acctshop-api/internal/handler"
	"acctshop-api/internal/metrics"
	"acctshop-api/internal/middleware"
	"acctshop-api/internal/notify"
	"acctshop-api/internal/repository"
	"acctshop-api/internal/router"
	"acctshop-api/internal/service"
	"acctshop-api/pkg/logging"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.MustLoad()

	logger := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if cfg.App.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.WithFields(logrus.Fields{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	}).Info("starting acctshop api")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	m := metrics.New("acctshop")

	ledger, err := openLedger(cfg.LedgerDB, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	store, err := openCache(cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gw, err := openGateway(cfg.Gateway, ledger, logger)
	if err != nil {
		return err
	}

	notifier, err := openNotifier(cfg, store, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	alerts, err := openAlertRepository(cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer alerts.Close()

	alerter := notify.NewAlerter(alerts, notifier, cfg.Shop.AdminID, m, logger)

	// Initialize services
	claims := service.NewClaimStore(store, cfg.Shop.ClaimTTL)
	convs := service.NewConversationStore(store, cfg.Shop.ConversationTTL)

	engine := service.NewPurchaseEngine(ledger, gw, claims, alerter, m, service.PurchaseConfig{
		Price:    cfg.Shop.Price,
		ClaimTTL: cfg.Shop.ClaimTTL,
	}, logger)
	onboarding := service.NewOnboardingFlow(convs, gw, ledger, alerter, m, logger)
	topUp := service.NewTopUpFlow(convs, ledger, notifier, alerter, m, logger)
	stats := service.NewStatsService(ledger, alerter, m)

	reconciler := service.NewReservationReconciler(ledger, engine, notifier, alerter, m, service.ReconcileConfig{
		Interval:  cfg.Shop.ReconcileInterval,
		Grace:     cfg.Shop.ReconcileGrace,
		BatchSize: cfg.Shop.ReconcileBatch,
	}, logger)
	reconciler.Start()
	defer reconciler.Stop()

	dispatcher := bot.New(bot.Config{
		AdminID:       cfg.Shop.AdminID,
		AdminUsername: cfg.Shop.AdminUsername,
	}, bot.Deps{
		Engine:        engine,
		Onboarding:    onboarding,
		TopUp:         topUp,
		Conversations: convs,
		Stats:         stats,
	}, m, logger)

	// Initialize handlers
	r := router.New(router.Config{
		Handler: handler.New(cfg.App.Name, cfg.App.Version, map[string]handler.Pinger{
			"ledger": ledger,
			"cache":  store,
		}),
		EventHandler: handler.NewEventHandler(dispatcher),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Stats:      stats,
			Reconciler: reconciler,
			Alerts:     alerts,
			LedgerType: cfg.LedgerDB.Type,
			CacheType:  cfg.Cache.Type,
		}),
		Metrics:         m,
		Logger:          logger,
		AuthMiddleware:  middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: cfg.App.APIKeys}),
		AdminMiddleware: middleware.NewAdminMiddleware(cfg.App.LoginKey),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("server shutdown error")
	}
	return nil
}

func openLedger(cfg config.LedgerDBConfig, logger *logrus.Logger) (repository.Ledger, error) {
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		l, err := repository.NewPostgresLedger(cfg.PostgresDSN(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL ledger: %w", err)
		}
		return l, nil

	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open MySQL: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping MySQL: %w", err)
		}
		l := repository.NewMySQLLedger(db, logger)
		if err := l.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create MySQL tables: %w", err)
		}
		return l, nil

	default: // sqlite
		l, err := repository.NewSQLiteLedger(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite ledger: %w", err)
		}
		return l, nil
	}
}

func openCache(cfg config.CacheConfig, logger *logrus.Logger) (cache.Store, error) {
	if strings.EqualFold(cfg.Type, "redis") {
		s, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.WithField("addr", cfg.RedisAddress()).Info("redis cache initialized")
		return s, nil
	}

	logger.Warn("using in-memory cache, pending claims and conversations do not survive a restart")
	return cache.NewMemoryStore(), nil
}

func openGateway(cfg config.GatewayConfig, ledger repository.Ledger, logger *logrus.Logger) (gateway.Gateway, error) {
	if strings.EqualFold(cfg.Type, "http") {
		gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL: cfg.URL,
			AppID:   cfg.AppID,
			AppHash: cfg.AppHash,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gateway: %w", err)
		}
		return gw, nil
	}

	gw := gateway.NewLocalGateway()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	items, err := ledger.ListReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed local gateway: %w", err)
	}
	logger.WithField("sessions", gw.Seed(items)).Info("local gateway initialized")
	return gw, nil
}

func openNotifier(cfg *config.Config, store cache.Store, logger *logrus.Logger) (notify.Notifier, error) {
	switch strings.ToLower(cfg.Notify.Type) {
	case "webhook":
		return notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)

	case "redis":
		if rs, ok := store.(*cache.RedisStore); ok {
			return notify.NewRedisNotifier(rs.Client(), cfg.Notify.RedisChannel), nil
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		return &ownedRedisNotifier{RedisNotifier: notify.NewRedisNotifier(client, cfg.Notify.RedisChannel), client: client}, nil

	case "rabbitmq":
		n, err := notify.NewRabbitMQNotifier(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ notifier: %w", err)
		}
		return n, nil

	default:
		return notify.NewLogNotifier(logger), nil
	}
}

// ownedRedisNotifier closes the client it was given.
type ownedRedisNotifier struct {
	*notify.RedisNotifier
	client *redis.Client
}

func (n *ownedRedisNotifier) Close() error {
	return n.client.Close()
}

func openAlertRepository(cfg config.AuditConfig, logger *logrus.Logger) (repository.AlertRepository, error) {
	if cfg.MongoURI == "" {
		return repository.NewMemoryAlertRepository(cfg.MemoryLimit), nil
	}
	repo, err := repository.NewMongoDBAlertRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB alerts: %w", err)
	}
	logger.WithField("database", cfg.MongoDatabase).Info("mongodb alert store initialized")
	return repo, nil
}
