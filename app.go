package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/blobstore"
	"github.com/example/waste-sort/internal/cache"
	"github.com/example/waste-sort/internal/classifier"
	"github.com/example/waste-sort/internal/config"
	"github.com/example/waste-sort/internal/handlers"
	"github.com/example/waste-sort/internal/metrics"
	"github.com/example/waste-sort/internal/ratelimit"
	"github.com/example/waste-sort/internal/repository"
	"github.com/example/waste-sort/internal/usecase"
)

// app owns every process-wide resource built at startup.
type app struct {
	router  *gin.Engine
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, model classifier.Classifier, logger *zap.Logger) (*app, error) {
	a := &app{}

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}

	repo := repository.NewAnalysisRepository(db, logger)
	if cfg.Database.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}

	kv := a.initCache(ctx, cfg.Redis, logger)

	blobs, err := initBlobStore(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	limiter := ratelimit.New(repo, kv, ratelimit.Options{
		Limit:   cfg.RateLimit.AnonymousLimit,
		Window:  cfg.RateLimit.Window,
		Strict:  cfg.RateLimit.Strict,
		LockTTL: cfg.RateLimit.LockTTL,
	}, logger)

	uc := usecase.NewAnalysisUseCase(usecase.Dependencies{
		Repo:       repo,
		Blobs:      blobs,
		Classifier: model,
		Limiter:    limiter,
		Cache:      kv,
		Observer:   m,
	}, usecase.Options{HistoryTTL: cfg.Cache.HistoryTTL}, logger)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	handlers.RegisterRoutes(router, uc, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Metrics:        m,
		Logger:         logger,
	})
	if local, ok := blobs.(*blobstore.LocalStore); ok {
		if prefix := strings.Trim(cfg.Storage.PublicPrefix, "/"); prefix != "" {
			router.Static("/"+prefix, local.Dir())
		}
	}

	a.router = router
	return a, nil
}

// initCache prefers Redis and falls back to the in-process cache when no
// address is configured or the server does not answer.
func (a *app) initCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) cache.Cache {
	if cfg.Addr == "" {
		logger.Info("redis not configured, using in-process cache")
		return cache.NewMemoryCache(time.Minute)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis connection failed, using in-process cache", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = client.Close()
		return cache.NewMemoryCache(time.Minute)
	}

	a.closers = append(a.closers, func() { _ = client.Close() })
	return cache.NewRedisCache(client)
}

func initBlobStore(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return blobstore.NewLocalStore(cfg.UploadDir, cfg.PublicPrefix)
	}
}

// Handler returns the router wrapped in the CORS policy.
func (a *app) Handler() http.Handler {
	return handlers.WithCORS(a.router)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
