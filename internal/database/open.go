package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/rheo/config"
)

// Dialector 根据驱动名与 DSN 选择 GORM 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", driver)
	}
}

// Open 按配置打开数据库并包装为 PoolManager
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*PoolManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	dialector, err := Dialector(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	pool := PoolConfigFrom(cfg)
	if isSQLite(cfg.Driver) {
		// sqlite 只允许单写者
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}

	pm, err := NewPoolManager(db, pool, log)
	if err != nil {
		return nil, err
	}
	log.Info("database connected", zap.String("driver", cfg.Driver))
	return pm, nil
}

// PoolConfigFrom 从数据库配置派生连接池配置，未设置的项使用默认值
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	return pc
}

func isSQLite(driver string) bool {
	d := strings.ToLower(driver)
	return d == "sqlite" || d == "sqlite3"
}
