package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medibot/internal/auth"
	"medibot/internal/config"
	"medibot/internal/database"
	"medibot/internal/email"
	"medibot/internal/logging"
	"medibot/internal/mongodb"
	redisx "medibot/internal/redis"
	"medibot/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		log.Fatalf("log setup error: %v", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, verifications, closeStore := openStore(ctx, cfg)
	defer closeStore()

	sessions, closeSessions := openSessions(cfg)
	defer closeSessions()

	mailer := email.NewSender(cfg.Email)
	if !cfg.Email.Enabled() {
		log.Printf("email is not configured; verification and reset codes cannot be delivered")
	}

	manager := auth.NewManager(users, verifications, sessions, mailer, auth.NewBcryptHasher(cfg.BcryptCost), auth.ManagerConfig{
		CodeTTL:       cfg.VerificationCodeTTL,
		SessionTTL:    cfg.SessionTTL,
		StoreTimeout:  cfg.StoreTimeout,
		NoEmailVerify: cfg.NoEmailVerify,
	})

	api, err := server.NewServer(cfg, manager)
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("Listening on %s (store=%s, sessions=%s)", addr, cfg.StoreDriver, cfg.SessionDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (auth.UserRepository, auth.VerificationRepository, func()) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database error: %v", err)
		}
		if err := database.ApplyMigrations(ctx, db, database.Migrations()); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		return auth.NewPostgresUserRepository(db), auth.NewPostgresVerificationRepository(db), db.Close

	case config.StoreMemory:
		log.Printf("using in-memory store; accounts are lost on restart")
		return auth.NewMemoryUserRepository(), auth.NewMemoryVerificationRepository(), func() {}

	default:
		client, err := mongodb.Connect(cfg.MongoURL)
		if err != nil {
			log.Fatalf("mongodb error: %v", err)
		}
		db := client.Database(cfg.MongoDB)
		verifications := auth.NewMongoVerificationRepository(db)
		if err := verifications.EnsureIndexes(ctx); err != nil {
			log.Fatalf("mongodb index error: %v", err)
		}
		return auth.NewMongoUserRepository(db), verifications, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.Printf("mongodb disconnect error: %v", err)
			}
		}
	}
}

func openSessions(cfg config.Config) (auth.SessionStore, func()) {
	if cfg.SessionDriver == config.SessionMemory {
		return auth.NewMemorySessionStore(), func() {}
	}

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	return &auth.RedisSessionStore{Redis: redisClient}, func() { _ = redisClient.Close() }
}
