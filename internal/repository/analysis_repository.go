package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/waste-sort/internal/logging"
)

// AnalysisRecord represents one persisted classification.
type AnalysisRecord struct {
	ID            uint      `gorm:"column:analyze_id;primaryKey;autoIncrement"`
	AnalyzeUID    string    `gorm:"column:analyze_uid;uniqueIndex;size:64;not null"`
	UserUID       *string   `gorm:"column:user_uid;size:128;index"`
	IPAddress     string    `gorm:"column:ip_address;size:64;not null;index:idx_analyses_ip_created,priority:1"`
	Label         string    `gorm:"column:label;size:64"`
	Description   string    `gorm:"column:description;type:text"`
	Image         string    `gorm:"column:image;size:512"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_analyses_ip_created,priority:2"`
	UpdatedAt     time.Time `gorm:"column:update_at"`
	Category      string    `gorm:"column:category;size:32;not null"`
	DisposalSteps []string  `gorm:"column:disposal_steps;type:text;serializer:json"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "waste_analyses"
}

// Anonymous reports whether the record was submitted without a User-Uid.
func (r *AnalysisRecord) Anonymous() bool {
	return r.UserUID == nil
}

// CategoryCount is one row of a per-category aggregation.
type CategoryCount struct {
	Category string `gorm:"column:category"`
	Total    int64  `gorm:"column:total"`
}

// AnalysisRepository provides persistence APIs for analysis records.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{})
}

// Create inserts the record inside its own transaction. The transaction is
// rolled back, and the connection returned to the pool, on every failure path.
func (r *AnalysisRepository) Create(ctx context.Context, requestID string, record *AnalysisRecord) error {
	return r.executeWithRetry(ctx, "repository.create_analysis", requestID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(record).Error
		})
	})
}

// CountAnonymousSince counts records without a user for ip created after since.
func (r *AnalysisRepository) CountAnonymousSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "repository.count_anonymous", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Where("ip_address = ? AND user_uid IS NULL AND created_at > ?", ip, since).
			Count(&count).Error
	})
	return count, err
}

// ListByUser returns every record of a user, newest first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userUID string) ([]AnalysisRecord, error) {
	records := make([]AnalysisRecord, 0)
	err := r.executeWithRetry(ctx, "repository.list_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_uid = ?", userUID).
			Order("created_at DESC").
			Order("analyze_id DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SummarizeByUser counts a user's records per category.
func (r *AnalysisRepository) SummarizeByUser(ctx context.Context, userUID string) ([]CategoryCount, error) {
	var rows []CategoryCount
	err := r.executeWithRetry(ctx, "repository.summarize_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select("category, COUNT(*) AS total").
			Where("user_uid = ?", userUID).
			Group("category").
			Order("category").
			Scan(&rows).Error
	})
	return rows, err
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
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
