package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fruit-check/internal/logging"
)

// AnalysisLog is one resolved classifier call.
type AnalysisLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SessionID  string    `gorm:"column:session_id;index;size:64"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40"`
	FruitType  string    `gorm:"column:fruit_type;size:16"`
	Condition  string    `gorm:"column:condition;size:16"`
	Confidence int       `gorm:"column:confidence"`
	Success    bool      `gorm:"column:success"`
	Applied    bool      `gorm:"column:applied"`
	Error      string    `gorm:"column:error;type:text"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// MetricsAggregation holds raw aggregates computed by the database.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// AnalysisRepository persists analysis logs with PostgreSQL via gorm.
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
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis log entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// AggregateMetrics summarizes every recorded call.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		SuccessCount      int64
		AverageConfidence float64
		AverageLatencyMs  float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(CASE WHEN success THEN confidence END), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		SuccessCount:      row.SuccessCount,
		AverageConfidence: row.AverageConfidence,
		AverageLatencyMs:  row.AverageLatencyMs,
	}, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
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

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return logging.NewOperationError(operation, sessionID, err)
		}
		if !IsTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

// IsTransientError reports whether err looks like a timeout or temporary failure.
func IsTransientError(err error) bool {
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
