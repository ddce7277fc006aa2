package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/config"
	"github.com/BaSui01/rheo/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

func runMigrate(args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		return nil
	}
	sub := args[0]

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	dbURL := fs.String("db-url", "", "Database connection URL (default: from config)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	version := 0
	if sub == "goto" || sub == "force" {
		if fs.NArg() != 1 {
			return fmt.Errorf("migrate %s requires a version", sub)
		}
		v, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(0), err)
		}
		version = v
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	m, err := createMigrator(cfg.Checkpoint.Database, *dbType, *dbURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(os.Stdout)
	return cli.Run(context.Background(), sub, version)
}

// createMigrator --db-type 与 --db-url 优先于配置文件
func createMigrator(dbCfg config.DatabaseConfig, dbType, dbURL string, logger *zap.Logger) (*migration.Migrator, error) {
	if dbType != "" {
		dbCfg.Driver = dbType
	}
	if dbURL != "" {
		if dbType == "" {
			return nil, errors.New("--db-url requires --db-type")
		}
		dbCfg.URL = dbURL
	}
	return migration.NewFromDatabaseConfig(dbCfg, logger)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  rheo migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: checkpoint.database.driver)
  --db-url <url>      Database connection URL (default: built from config)

Examples:
  rheo migrate up
  rheo migrate status --config rheo.yaml
  rheo migrate goto 1
  rheo migrate force 0`)
}
