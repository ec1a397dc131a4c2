package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

type Config struct {
	EnableHTTP       bool          `envconfig:"HTTP_ENABLED" default:"true"`
	EnableGRPC       bool          `envconfig:"GRPC_ENABLED" default:"true"`
	HTTPPort         string        `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort         string        `envconfig:"GRPC_PORT" default:"9090"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	// DrainDelay keeps serving after readiness flips to DOWN, giving load
	// balancers time to notice before listeners close.
	DrainDelay time.Duration `envconfig:"SHUTDOWN_DRAIN_DELAY" default:"0s"`

	MTLSEnabled    bool   `envconfig:"MTLS_ENABLED"`
	MTLSCACert     string `envconfig:"MTLS_CA_CERT"`
	MTLSServerCert string `envconfig:"MTLS_SERVER_CERT"`
	MTLSServerKey  string `envconfig:"MTLS_SERVER_KEY"`
}

// Drainer is told when shutdown begins. health.Checker implements it.
type Drainer interface {
	Drain()
}

// Server runs the operator HTTP API and the gRPC health endpoint until its
// context is cancelled.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	router  chi.Router
	grpcSrv *grpc.Server
	drainer Drainer
}

func New(cfg Config, logger *slog.Logger, router chi.Router, grpcSrv *grpc.Server) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		router:  router,
		grpcSrv: grpcSrv,
	}
}

// WithDrainer registers d to be drained before the listeners close.
func (s *Server) WithDrainer(d Drainer) *Server {
	s.drainer = d
	return s
}

// Start serves until ctx is cancelled or a listener fails, then shuts both
// servers down. A failing listener stops the other one too.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var httpSrv *http.Server
	if s.cfg.EnableHTTP {
		var err error
		if httpSrv, err = s.httpServer(); err != nil {
			return err
		}
		g.Go(func() error {
			s.logger.Info("HTTP server starting", "port", s.cfg.HTTPPort, "mtls", s.cfg.MTLSEnabled)
			var err error
			if s.cfg.MTLSEnabled {
				err = httpSrv.ListenAndServeTLS(s.cfg.MTLSServerCert, s.cfg.MTLSServerKey)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
	}

	if s.cfg.EnableGRPC && s.grpcSrv != nil {
		g.Go(func() error {
			s.logger.Info("gRPC server starting", "port", s.cfg.GRPCPort)
			lis, err := SystemSocket(s.cfg.GRPCPort)
			if err != nil {
				return fmt.Errorf("failed to listen grpc: %w", err)
			}
			if err := s.grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(ctx, httpSrv)
		return nil
	})

	return g.Wait()
}

func (s *Server) httpServer() (*http.Server, error) {
	srv := &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	if s.cfg.MTLSEnabled {
		s.logger.Info("Enabling mTLS for HTTP Server")
		tlsConfig, err := loadMTLSConfig(s.cfg.MTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("failed to load mTLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}
	return srv, nil
}

// shutdown drains, then stops both servers within ShutdownTimeout. The
// gRPC server is force-stopped if a graceful stop overruns the deadline.
func (s *Server) shutdown(parent context.Context, httpSrv *http.Server) {
	s.logger.Info("Shutting down servers...")
	if s.drainer != nil {
		s.drainer.Drain()
		if s.cfg.DrainDelay > 0 && parent.Err() != nil {
			time.Sleep(s.cfg.DrainDelay)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.ShutdownTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown error", "error", err)
		}
	}

	if s.grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.logger.Warn("gRPC graceful stop timed out, forcing")
			s.grpcSrv.Stop()
		}
	}
}

func loadMTLSConfig(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("could not read CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append CA cert")
	}

	return &tls.Config{
		ClientCAs:  pool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		MinVersion: tls.VersionTLS12,
	}, nil
}

func SystemSocket(port string) (net.Listener, error) {
	return net.Listen("tcp", ":"+port)
}
