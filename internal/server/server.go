package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/rheo/internal/tlsutil"
)

// =============================================================================
// 📈 指标端点服务器
// =============================================================================

// Config 服务器配置
type Config struct {
	// 监听地址，":0" 表示随机端口
	Addr string
	// TLS 证书与私钥，都为空时使用明文 HTTP
	CertFile string
	KeyFile  string
	// 优雅关闭超时
	ShutdownTimeout time.Duration
}

// Server 暴露 /metrics 与 /healthz 的 HTTP 服务器
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	errCh    chan error
}

// New 创建指标服务器，gatherer 为 nil 时使用默认注册表
func New(cfg Config, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(zap.String("component", "metrics_server")),
		errCh:  make(chan error, 1),
	}
}

// Start 监听并在后台提供服务（非阻塞）
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	var tlsCfg *tls.Config
	if s.cfg.CertFile != "" || s.cfg.KeyFile != "" {
		var err error
		if tlsCfg, err = tlsutil.ServerConfig(s.cfg.CertFile, s.cfg.KeyFile); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.listener = ln

	s.logger.Info("serving metrics",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", tlsCfg != nil),
	)
	go s.serve(ln)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics server failed", zap.Error(err))
		select {
		case s.errCh <- err:
		default:
		}
	}
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Errors returns asynchronous serve errors.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown 优雅关闭，可重复调用
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("metrics server shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Info("metrics server stopped")
	return nil
}
