package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/practice-sem-2/quartier-chat-service/internal/auth"
	"github.com/practice-sem-2/quartier-chat-service/internal/config"
	"github.com/practice-sem-2/quartier-chat-service/internal/gateway"
	"github.com/practice-sem-2/quartier-chat-service/internal/server"
	storage "github.com/practice-sem-2/quartier-chat-service/internal/storages"
	usecase "github.com/practice-sem-2/quartier-chat-service/internal/usecases"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func initLogger(level string) *logrus.Logger {

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint: true,
	})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		logger.
			WithField("log_level", level).
			Warning("specified invalid log level")
	} else {
		logger.SetLevel(logLevel)
		logger.
			WithField("log_level", level).
			Infof("specified %s log level", logLevel.String())
	}

	return logger
}

func initDB(dsn string, logger *logrus.Logger) *sqlx.DB {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		logger.Fatalf("can't connect to database: %s", err.Error())
	}

	err = db.Ping()

	if err != nil {
		logger.Fatalf("database ping failed: %s", err.Error())
	}

	logger.Info("successfully connected to database")
	return db
}

func runMigrations(dir, dsn string, logger *logrus.Logger) {
	m, err := migrate.New(dir, strings.Replace(dsn, "postgres://", "pgx://", 1))
	if err != nil {
		logger.Fatalf("can't open migrations: %s", err.Error())
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("database schema is up to date")
		return
	}
	if err != nil {
		logger.Fatalf("migration failed: %s", err.Error())
	}
	logger.Info("database schema migrated")
}

// initProducer returns nil when no Kafka brokers are configured.
func initProducer(brokers []string, logger *logrus.Logger) sarama.SyncProducer {
	if len(brokers) == 0 {
		logger.Warn("KAFKA_BROKERS is not set, updates stream is disabled")
		return nil
	}

	config := sarama.NewConfig()
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Timeout = 10 * time.Second
	config.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, config)

	if err != nil {
		logger.WithError(err).Fatalf("can't create producer")
	}

	return producer
}

// initBroker picks the Redis broker when REDIS_ADDR is set, so that several
// instances share events; otherwise events stay in process.
func initBroker(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (gateway.Broker, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR is not set, using in-process broker")
		return gateway.NewLocalBroker(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("redis ping failed: %s", err.Error())
	}
	logger.WithField("addr", cfg.RedisAddr).Info("successfully connected to redis")

	return gateway.NewRedisBroker(rdb, cfg.RedisChannelPrefix, logger), func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Warn("can't close redis client")
		}
	}
}

func initVerifier(cfg *config.Config, logger *logrus.Logger) auth.Verifier {
	if cfg.JWTPublicKeyPath != "" {
		verifier, err := auth.NewVerifierFromFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Fatalf("verifier can't read public key: %s", err.Error())
		}
		return verifier
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("either JWT_PUBLIC_KEY_PATH or JWT_SECRET must be defined")
	}
	return auth.NewHMACVerifier([]byte(cfg.JWTSecret))
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var host string
	var port int
	var logLevel string
	var migrateUp bool

	flag.IntVar(&port, "port", 80, "port on which server will be started")
	flag.StringVar(&host, "host", "0.0.0.0", "host on which server will be started")
	flag.StringVar(&logLevel, "log", "info", "log level")
	flag.BoolVar(&migrateUp, "migrate", false, "apply database migrations before start")

	flag.Parse()

	logger := initLogger(logLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("can't load config: %s", err.Error())
	}

	if migrateUp {
		runMigrations(cfg.MigrationsDir, cfg.DBDSN, logger)
	}

	db := initDB(cfg.DBDSN, logger)
	defer func(db *sqlx.DB) {
		err := db.Close()
		if err != nil {
			logger.Errorf("during db connection close an error occurred: %s", err.Error())
		}
	}(db)

	producer := initProducer(cfg.KafkaBrokers, logger)
	if producer != nil {
		defer producer.Close()
	}

	store := storage.NewRegistry(db, producer, &storage.UpdatesStoreConfig{
		UpdatesTopic: cfg.UpdatesTopic,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gateway.NewMetrics(reg)

	broker, closeBroker := initBroker(ctx, cfg, logger)
	defer closeBroker()

	hub := gateway.NewHub(broker, metrics, logger)

	updates := usecase.NewUpdatesQueue(usecase.DefaultUpdatesQueueSize, logger)
	go updates.Run(ctx)

	opts := []usecase.Option{
		usecase.WithNotifier(hub),
		usecase.WithLogger(logger),
		usecase.WithUpdatesQueue(updates),
	}
	roomsUsecase := usecase.NewRoomsUsecase(store, opts...)
	messagesUsecase := usecase.NewMessagesUsecase(store, opts...)
	presenceUsecase := usecase.NewPresenceUsecase(store, usecase.PresenceConfig{
		OnlineWindow: cfg.Presence.OnlineWindow,
		OfflineAfter: cfg.Presence.OfflineAfter,
		TypingTTL:    cfg.Presence.TypingTTL,
	}, opts...)

	hub.RecordDeliveries(messagesUsecase)
	if err = hub.Run(ctx); err != nil {
		logger.Fatalf("can't subscribe to broker: %s", err.Error())
	}

	go presenceUsecase.RunSweeper(ctx, cfg.Presence.SweepInterval)

	verifier := initVerifier(cfg, logger)
	ws := gateway.NewGateway(hub, verifier, roomsUsecase, messagesUsecase, presenceUsecase, cfg.WS, metrics, logger)

	router := mux.NewRouter()
	router.Handle("/ws", ws)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server.NewChatServer(roomsUsecase, messagesUsecase, presenceUsecase, verifier, logger).Register(router)

	address := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	osSignal := make(chan os.Signal, 1)
	signal.Notify(osSignal,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	stopped := make(chan struct{})
	go func(ctx context.Context) {
		defer close(stopped)
		select {
		case sig := <-osSignal:
			logger.Infof("%s caught. Gracefully shutdown", sig.String())
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			ws.Shutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("http server shutdown failed")
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}(ctx)

	logger.Infof("start listening on %s", address)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http serving error: %s", err.Error())
	}
	<-stopped
}
