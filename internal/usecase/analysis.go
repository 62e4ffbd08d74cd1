package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/blobstore"
	"github.com/example/waste-sort/internal/cache"
	"github.com/example/waste-sort/internal/category"
	"github.com/example/waste-sort/internal/classifier"
	"github.com/example/waste-sort/internal/logging"
	"github.com/example/waste-sort/internal/ratelimit"
	"github.com/example/waste-sort/internal/repository"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	Create(ctx context.Context, requestID string, record *repository.AnalysisRecord) error
	ListByUser(ctx context.Context, userUID string) ([]repository.AnalysisRecord, error)
	SummarizeByUser(ctx context.Context, userUID string) ([]repository.CategoryCount, error)
}

// RateLimiter gates anonymous uploads.
type RateLimiter interface {
	Check(ctx context.Context, ip string, now time.Time) error
	Acquire(ctx context.Context, ip string) (func(), error)
}

// Observer receives pipeline outcomes, typically for metrics.
type Observer interface {
	ObservePrediction(label, category string, took time.Duration)
	ObserveFailure(kind string)
	ObserveRateLimited()
}

// Dependencies are the process-wide collaborators of the use case. Observer
// and Cache may be nil.
type Dependencies struct {
	Repo       AnalysisRepository
	Blobs      blobstore.Store
	Classifier classifier.Classifier
	Limiter    RateLimiter
	Cache      cache.Cache
	Observer   Observer
}

// Options tunes the use case.
type Options struct {
	HistoryTTL time.Duration
}

// AnalysisUseCase encapsulates business logic for the upload, classify and
// persist flow.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	blobs          blobstore.Store
	classifier     classifier.Classifier
	limiter        RateLimiter
	cache          cache.Cache
	observer       Observer
	logger         *zap.Logger
	now            func() time.Time
	historyTTL     time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// PredictInput is one upload as received over HTTP.
type PredictInput struct {
	RequestID   string
	UserUID     string
	ClientIP    string
	Filename    string
	ContentType string
	Image       []byte
}

// PredictResult is the outcome of a successful upload.
type PredictResult struct {
	AnalyzeUID    string
	Label         string
	Category      category.Category
	Description   string
	DisposalSteps []string
	Confidence    float32
	ImageRef      string
	CreatedAt     time.Time
}

var analyzeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("waste-sort/analysis"))

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(deps Dependencies, opts Options, logger *zap.Logger) *AnalysisUseCase {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache(time.Minute)
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = time.Minute
	}
	return &AnalysisUseCase{
		repo:           deps.Repo,
		blobs:          deps.Blobs,
		classifier:     deps.Classifier,
		limiter:        deps.Limiter,
		cache:          deps.Cache,
		observer:       deps.Observer,
		logger:         logger.Named("analysis_usecase"),
		now:            func() time.Time { return time.Now().UTC() },
		historyTTL:     opts.HistoryTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Predict classifies an upload, stores the image and records the analysis.
// Anonymous callers are rate limited per client address first.
func (uc *AnalysisUseCase) Predict(ctx context.Context, in PredictInput) (*PredictResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", in.RequestID)

	if len(in.Image) == 0 {
		uc.observer.ObserveFailure("missing_file")
		return nil, ErrMissingFile
	}

	now := uc.now()
	anonymous := in.UserUID == ""

	if anonymous {
		release, err := uc.limiter.Acquire(ctx, in.ClientIP)
		defer release()
		if err != nil {
			uc.observer.ObserveFailure("rate_limit")
			opLogger.Error("failed to acquire rate limit lock", zap.Error(err))
			return nil, logging.NewOperationError("usecase.rate_limit_lock", in.RequestID, err)
		}
		if err := uc.limiter.Check(ctx, in.ClientIP, now); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				uc.observer.ObserveRateLimited()
			} else {
				uc.observer.ObserveFailure("rate_limit")
				opLogger.Error("rate limit check failed", zap.Error(err))
			}
			return nil, logging.NewOperationError("usecase.rate_limit", in.RequestID, err)
		}
	}

	started := time.Now()
	prediction, err := uc.classifier.Classify(ctx, in.Image)
	if err != nil {
		uc.observer.ObserveFailure(classifyFailureKind(err))
		wrapped := logging.NewOperationError("usecase.classify", in.RequestID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))
		return nil, wrapped
	}
	took := time.Since(started)

	resolution := category.ResolveName(prediction.LabelName())

	ref, err := uc.blobs.Put(ctx, blobstore.GenerateName(now, in.Filename), in.Image, in.ContentType)
	if err != nil {
		uc.observer.ObserveFailure("storage")
		wrapped := logging.NewOperationError("usecase.store_image", in.RequestID, fmt.Errorf("%w: %w", ErrStorage, err))
		opLogger.Error("failed to store image", zap.Error(wrapped))
		return nil, wrapped
	}

	record := &repository.AnalysisRecord{
		AnalyzeUID:    AnalyzeUID(now, in.ClientIP),
		IPAddress:     in.ClientIP,
		Label:         resolution.Label,
		Description:   resolution.Description,
		Category:      resolution.Category.String(),
		DisposalSteps: resolution.DisposalSteps,
		Image:         ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !anonymous {
		userUID := in.UserUID
		record.UserUID = &userUID
	}

	if err := uc.repo.Create(ctx, in.RequestID, record); err != nil {
		uc.observer.ObserveFailure("storage")
		wrapped := logging.NewOperationError("usecase.save_analysis", in.RequestID, fmt.Errorf("%w: %w", ErrStorage, err))
		opLogger.Error("failed to persist analysis", zap.Error(wrapped), zap.String("image", ref))
		if delErr := uc.blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			opLogger.Warn("failed to remove orphaned image", zap.String("image", ref), zap.Error(delErr))
		}
		return nil, wrapped
	}

	if !record.Anonymous() {
		uc.invalidateHistory(ctx, in.RequestID, in.UserUID)
	}

	uc.observer.ObservePrediction(resolution.Label, resolution.Category.String(), took)
	opLogger.Info("analysis stored",
		zap.String("analyze_uid", record.AnalyzeUID),
		zap.String("label", resolution.Label),
		zap.String("category", resolution.Category.String()),
		zap.Bool("anonymous", record.Anonymous()),
	)

	return &PredictResult{
		AnalyzeUID:    record.AnalyzeUID,
		Label:         resolution.Label,
		Category:      resolution.Category,
		Description:   resolution.Description,
		DisposalSteps: resolution.DisposalSteps,
		Confidence:    prediction.Confidence,
		ImageRef:      ref,
		CreatedAt:     now,
	}, nil
}

// AnalyzeUID derives the public identifier of an analysis from its creation
// time and client address.
func AnalyzeUID(at time.Time, clientIP string) string {
	return uuid.NewSHA1(analyzeNamespace, []byte(at.UTC().Format(time.RFC3339Nano)+"|"+clientIP)).String()
}

func classifyFailureKind(err error) string {
	switch {
	case errors.Is(err, classifier.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, classifier.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "classifier"
	}
}

type noopObserver struct{}

func (noopObserver) ObservePrediction(string, string, time.Duration) {}
func (noopObserver) ObserveFailure(string)                           {}
func (noopObserver) ObserveRateLimited()                             {}

func historyCacheKey(userUID string) string {
	return "history:" + userUID
}

func summaryCacheKey(userUID string) string {
	return "history_summary:" + userUID
}

func (uc *AnalysisUseCase) invalidateHistory(ctx context.Context, requestID, userUID string) {
	for _, key := range []string{historyCacheKey(userUID), summaryCacheKey(userUID)} {
		if err := uc.withCacheRetry(ctx, requestID, "cache.delete.history", func() error {
			return uc.cache.Delete(ctx, key)
		}); err != nil {
			logging.WithOperation(uc.logger, "usecase.predict", requestID).Warn("failed to invalidate history cache", zap.Error(err))
		}
	}
}

func (uc *AnalysisUseCase) cacheJSON(ctx context.Context, requestID, key string, value interface{}) {
	opLogger := logging.WithOperation(uc.logger, "usecase.cache_json", requestID)
	serialized, err := json.Marshal(value)
	if err != nil {
		opLogger.Error("failed to serialize cache entry", zap.Error(err))
		return
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.historyTTL)
	}); err != nil {
		opLogger.Warn("failed to cache entry", zap.Error(err))
	}
}

func (uc *AnalysisUseCase) cachedJSON(ctx context.Context, requestID, key string, out interface{}) bool {
	var raw string
	err := uc.withCacheRetry(ctx, requestID, "cache.get", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logging.WithOperation(uc.logger, "usecase.cached_json", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logging.WithOperation(uc.logger, "usecase.cached_json", requestID).Warn("failed to decode cached entry", zap.Error(err))
		return false
	}
	return true
}

func (uc *AnalysisUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
