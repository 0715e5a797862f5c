package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/pipeline"
)

// ShutdownTimeout bounds a graceful shutdown
const ShutdownTimeout = 5 * time.Second

// StatusProvider exposes the state of the running session
type StatusProvider interface {
	Status() pipeline.Status
}

// EchoServer is the echo based Server implementation.
type EchoServer struct {
	Echo *echo.Echo

	addr    string
	metrics http.Handler
	log     logger.Logger

	mu       sync.Mutex
	status   StatusProvider
	listener net.Listener
	errCh    chan error
}

var _ Server = (*EchoServer)(nil)

// Option configures an EchoServer
type Option func(*EchoServer)

// WithLogger sets the server logger
func WithLogger(log logger.Logger) Option {
	return func(s *EchoServer) { s.log = log }
}

// WithStatusProvider sets the session reported by /api/v1/session
func WithStatusProvider(p StatusProvider) Option {
	return func(s *EchoServer) { s.status = p }
}

// New creates a server listening on addr. metrics serves /metrics and may be
// nil.
func New(addr string, metrics http.Handler, opts ...Option) *EchoServer {
	s := &EchoServer{
		Echo:    echo.New(),
		addr:    addr,
		metrics: metrics,
		errCh:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("http")
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.requestLogger())
	s.initRoutes()
	return s
}

// SetStatusProvider replaces the session reported by /api/v1/session
func (s *EchoServer) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = p
}

func (s *EchoServer) initRoutes() {
	s.Echo.GET("/healthz", s.handleHealth)
	s.Echo.GET("/api/v1/session", s.handleSession)
	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *EchoServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *EchoServer) handleSession(c echo.Context) error {
	s.mu.Lock()
	p := s.status
	s.mu.Unlock()

	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active session")
	}
	return c.JSON(http.StatusOK, p.Status())
}

// requestLogger logs every request through the module logger
func (s *EchoServer) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				s.log.Error("request", fields...)
			case v.Status >= http.StatusBadRequest:
				s.log.Warn("request", fields...)
			default:
				s.log.Debug("request", fields...)
			}
			return nil
		},
	})
}

// Listen binds the listening socket so that Addr is known before Start
func (s *EchoServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryResource).
			Context("operation", "listen").
			Context("address", s.addr).
			Build()
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *EchoServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start begins listening and serving HTTP requests. Listen errors are
// logged and returned by Run.
func (s *EchoServer) Start() {
	if err := s.Listen(); err != nil {
		s.log.Error("status server failed to listen", logger.Error(err))
		s.errCh <- err
		return
	}

	s.mu.Lock()
	s.Echo.Listener = s.listener
	s.mu.Unlock()

	go func() {
		s.log.Info("status server started", logger.String("address", s.Addr()))
		if err := s.Echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", logger.Error(err))
			s.errCh <- errors.New(err).
				Component("httpserver").
				Category(errors.CategoryHTTP).
				Context("operation", "serve").
				Build()
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *EchoServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("httpserver").
			Category(errors.CategoryShutdown).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("status server stopped")
	return nil
}

// Run serves until ctx is done or the server fails.
func (s *EchoServer) Run(ctx context.Context) error {
	s.Start()
	select {
	case err := <-s.errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}
