package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartcredit/backend/internal/cache"
	"smartcredit/backend/internal/config"
	"smartcredit/backend/internal/httpapi"
	"smartcredit/backend/internal/logger"
	"smartcredit/backend/internal/service"
	"smartcredit/backend/internal/store"
	"smartcredit/backend/internal/store/memory"
	pgstore "smartcredit/backend/internal/store/postgres"
	sqlitestore "smartcredit/backend/internal/store/sqlite"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("close error", zap.Error(err))
			}
		}
	}()

	board, closeBoard := openCreditBoardCache(ctx, cfg, log)
	if closeBoard != nil {
		closers = append(closers, closeBoard)
	}

	rates, err := config.LoadRates(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("load rates: %w", err)
	}

	svc := service.New(repo, rates,
		service.WithLogger(log.Named("service")),
		service.WithCreditBoardCache(board, time.Duration(cfg.CreditBoardTTLSeconds)*time.Second),
	)
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		cfg.OperatorUsername, cfg.OperatorPassword)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log.Named("http"))
	if p, ok := repo.(pinger); ok {
		api.WithHealthCheck(p.Ping)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("credit ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openRepository picks the ledger store: postgres when DATABASE_URL is set,
// sqlite when SQLITE_PATH is set, otherwise a seeded in-memory ledger.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to start with in-memory fallback: %w", err)
		}
		log.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case cfg.SQLitePath != "":
		db, err := sqlitestore.New(cfg.SQLitePath, log.Named("sqlite"), logger.GormLevel(cfg.LogLevel))
		if err != nil {
			return nil, nil, err
		}
		log.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
		return db, []func() error{db.Close}, nil
	default:
		log.Warn("repository: in-memory, data is lost on restart")
		return memory.NewSeeded(), nil, nil
	}
}

func openCreditBoardCache(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.CreditBoardCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("cache: in-process")
		return cache.NewMemoryCreditBoardCache(), nil
	}

	redisCache := cache.NewRedisCreditBoardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("redis unavailable, using in-process cache", zap.Error(err))
		_ = redisCache.Close()
		return cache.NewMemoryCreditBoardCache(), nil
	}
	log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < httpapi.MinSecretLength {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", httpapi.MinSecretLength)
	}
	if len(cfg.OperatorPassword) < 8 {
		return fmt.Errorf("OPERATOR_PASSWORD must be set and at least 8 characters")
	}
	if err := validatePasswordStrength(cfg.OperatorUsername, cfg.OperatorPassword); err != nil {
		return fmt.Errorf("OPERATOR_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that repeat one character,
// match the username, or appear on a known-weak list.
func validatePasswordStrength(username string, password string) error {
	known := map[string]bool{
		"password": true, "12345678": true, "123456789": true, "qwertyui": true,
		"admin123": true, "password1": true, "11111111": true, "abcdefgh": true,
		"changeme": true, "letmein1": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}
	if strings.EqualFold(strings.TrimSpace(username), password) {
		return fmt.Errorf("password must differ from the username")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}
	return nil
}
