package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/config"
	"github.com/BaSui01/rheo/internal/database"
)

// Store types accepted by New.
const (
	TypeNone     = "none"
	TypeMemory   = "memory"
	TypeFile     = "file"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeRedis    = "redis"
)

// New 根据配置创建检查点存储。类型为 none 或空时返回 nil, nil，表示不持久化。
func New(cfg config.CheckpointConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "", TypeNone:
		return nil, nil
	case TypeMemory:
		return NewMemoryStore(), nil
	case TypeFile:
		return NewFileStore(cfg.BaseDir)
	case TypeRedis:
		return NewRedisStore(cfg.Redis)
	case TypeSQLite, TypePostgres, TypeMySQL:
		return newSQLStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}

func newSQLStore(cfg config.CheckpointConfig, logger *zap.Logger) (*SQLStore, error) {
	dbCfg := cfg.Database
	if dbCfg.Driver == "" {
		dbCfg.Driver = cfg.Type
	}
	pool, err := database.Open(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	store := NewSQLStore(pool, logger)
	if dbCfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.AutoMigrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}
