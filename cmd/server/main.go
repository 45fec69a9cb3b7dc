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

	"github.com/BryanFarras/TokoKami/internal/cache"
	"github.com/BryanFarras/TokoKami/internal/config"
	"github.com/BryanFarras/TokoKami/internal/domain"
	"github.com/BryanFarras/TokoKami/internal/httpapi"
	"github.com/BryanFarras/TokoKami/internal/service"
	"github.com/BryanFarras/TokoKami/internal/store"
	"github.com/BryanFarras/TokoKami/internal/store/memory"
	"github.com/BryanFarras/TokoKami/internal/store/sqlstore"
)

func main() {
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		db, err := sqlstore.New(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseMigrate {
			if err := db.Migrate(ctx); err != nil {
				log.Fatalf("migration failed: %v", err)
			}
			log.Println("schema migrated")
		}
		repo = db
		closers = append(closers, db.Close)
		log.Printf("repository: %s", cfg.DatabaseDriver)
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var (
		cacheStore cache.Cache     = cache.NoopCache{}
		publisher  cache.Publisher = cache.NoopPublisher{}
	)
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			cacheStore = redisCache
			publisher = redisCache.Publisher()
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err := auth.Bootstrap(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("auth bootstrap failed: %v", err)
	}

	svc := service.New(repo, cacheStore, publisher, service.Options{
		LowStockThreshold: cfg.LowStockThreshold,
		IngredientPolicy:  cfg.IngredientPolicy,
		ReportCacheTTL:    time.Duration(cfg.ReportCacheTTLSeconds) * time.Second,
	})
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("TokoKami backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	switch cfg.DatabaseDriver {
	case sqlstore.DriverPostgres, sqlstore.DriverMySQL:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", sqlstore.DriverPostgres, sqlstore.DriverMySQL, cfg.DatabaseDriver)
	}
	switch cfg.IngredientPolicy {
	case domain.IngredientPolicyReject, domain.IngredientPolicyAllowNegative:
	default:
		return fmt.Errorf("INGREDIENT_STOCK_POLICY must be %q or %q, got %q", domain.IngredientPolicyReject, domain.IngredientPolicyAllowNegative, cfg.IngredientPolicy)
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 6 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 6 characters")
	}
	return nil
}
