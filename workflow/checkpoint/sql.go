package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/rheo/internal/database"
	"github.com/BaSui01/rheo/workflow"
)

// checkpointRow matches the checkpoints table created by internal/migration.
type checkpointRow struct {
	ThreadID  string `gorm:"column:thread_id;primaryKey;size:255"`
	Data      string `gorm:"column:data;type:text;not null"`
	Timestamp string `gorm:"column:timestamp;size:64;not null;index:idx_checkpoints_timestamp"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

// SQLStore 基于 GORM 的检查点存储，支持 sqlite、postgres、mysql。
// 保存使用 upsert，同一线程只保留最新一行。
type SQLStore struct {
	pool    *database.PoolManager
	logger  *zap.Logger
	retries int
	now     func() time.Time
}

// NewSQLStore wraps an open pool. The store owns the pool and closes it.
func NewSQLStore(pool *database.PoolManager, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		pool:    pool,
		logger:  logger.With(zap.String("component", "checkpoint_sql")),
		retries: 3,
		now:     time.Now,
	}
}

// AutoMigrate creates the checkpoints table if it does not exist.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&checkpointRow{}); err != nil {
		return fmt.Errorf("migrate checkpoints table: %w", err)
	}
	return nil
}

// Save implements workflow.Checkpointer.
func (s *SQLStore) Save(ctx context.Context, st *workflow.State) error {
	rec, err := NewRecord(st, s.now())
	if err != nil {
		return err
	}
	row := checkpointRow{ThreadID: rec.ThreadID, Data: string(rec.Data), Timestamp: rec.Timestamp}
	return s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
}

func (s *SQLStore) Load(ctx context.Context, threadID string) (*workflow.State, error) {
	rec, err := s.Record(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return Decode(rec.Data)
}

// Record reads the raw row of threadID.
func (s *SQLStore) Record(ctx context.Context, threadID string) (*Record, error) {
	var row checkpointRow
	err := s.pool.DB().WithContext(ctx).Where("thread_id = ?", threadID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &Record{ThreadID: row.ThreadID, Data: []byte(row.Data), Timestamp: row.Timestamp}, nil
}

func (s *SQLStore) ListThreads(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.pool.DB().WithContext(ctx).Model(&checkpointRow{}).Order("thread_id").Pluck("thread_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	err := s.pool.DB().WithContext(ctx).Where("thread_id = ?", threadID).Delete(&checkpointRow{}).Error
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *SQLStore) Close() error { return s.pool.Close() }
