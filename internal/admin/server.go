// Package admin serves the broker's HTTP control surface: health, metrics,
// channel and topic listings and an injection endpoint for publishes.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/edgewire/internal/broker"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is the broker view the admin routes read and drive.
type Backend interface {
	InstanceID() string
	Addrs() []string
	Channels() []broker.ChannelInfo
	Topics() map[string]int
	Subscribers(topic string) []uint32
	Publish(topic string, payload []byte) int
	Disconnect(id uint32) bool
}

var _ Backend = (*broker.Broker)(nil)

type Config struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
	// MaxPublishBytes caps POST bodies on the publish route.
	MaxPublishBytes int64
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:7301",
		CorsOrigins:     []string{"http://localhost:3000"},
		MaxPublishBytes: 1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

type Server struct {
	cfg      Config
	backend  Backend
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

func New(cfg Config, backend Backend) *Server {
	def := DefaultConfig()
	if len(cfg.CorsOrigins) == 0 {
		cfg.CorsOrigins = def.CorsOrigins
	}
	if cfg.MaxPublishBytes <= 0 {
		cfg.MaxPublishBytes = def.MaxPublishBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	observability.RegisterMetrics()
	logger := log.With().Str("component", "admin").Str("instance", backend.InstanceID()).Logger()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics(backend.InstanceID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		backend:  backend,
		router:   r,
		log:      logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on cfg.Addr until ctx ends, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
