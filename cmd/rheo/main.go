// =============================================================================
// rheo 主入口
// =============================================================================
// 命令行入口：运行工作流、查看检查点、数据库迁移、Agent 路由演示
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/rheo/config"
	"github.com/BaSui01/rheo/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runWorkflow(os.Args[2:])
	case "threads":
		err = runThreads(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🔧 公共初始化
// =============================================================================

// commonFlags 所有子命令共享的参数
type commonFlags struct {
	configPath   string
	strictConfig bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file (YAML)")
	fs.BoolVar(&c.strictConfig, "strict-config", false, "Reject unknown keys in the config file")
}

// loadConfig 加载并验证配置
func (c *commonFlags) loadConfig() (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix("RHEO")
	if c.configPath != "" {
		loader = loader.WithConfigPath(c.configPath)
	}
	if c.strictConfig {
		loader = loader.WithStrict()
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printVersion() {
	fmt.Printf("rheo %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Module:     %s\n", telemetry.BuildVersion())
}

func printUsage() {
	fmt.Println(`rheo - agentic workflow runtime

Usage:
  rheo <command> [options]

Commands:
  run       Run a workflow to completion
  threads   List, show or delete checkpointed threads
  ask       Route one request through a coordinator and specialists
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)
  --strict-config   Reject unknown keys in the configuration file

Options for 'run':
  --workflow <path>      Workflow DSL file (default: built-in plan/review)
  --thread <id>          Thread id used for checkpoints
  --timeout <duration>   Run budget, overrides runtime.run_timeout
  --resume               Continue from the thread's latest checkpoint
  --metrics-addr <addr>  Serve Prometheus metrics while running
  --allow-dir <dir>      Directory the file_ops tool may access
  --trace                Print the executed steps after the run

Examples:
  rheo run "write release notes"
  rheo run --workflow review.yaml --thread t-42 --timeout 2m "ship it"
  rheo threads list
  rheo threads show t-42
  rheo ask --intent billing "refund order 17"
  rheo migrate up --config rheo.yaml`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
