// Package admin serves the operator HTTP surface of a lightmesh node:
// health, status, peers, metrics, button presses, test sends, wipe, and a
// websocket stream of node events.
package admin

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/auth"
	"github.com/danmuck/lightmesh/internal/node"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/danmuck/lightmesh/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Controller is the daemon side of the admin surface. Calls that touch the
// node are serialized onto its tick goroutine.
type Controller interface {
	Snapshot() node.Snapshot
	Press(ctx context.Context, p node.Press) error
	Send(ctx context.Context, addr string, payload []byte, reliable bool) (uint16, error)
	Wipe(ctx context.Context) error
}

type Config struct {
	ListenAddr  string
	Service     string
	Token       string
	CORSOrigins []string
	// RequestTimeout bounds how long a handler waits on the controller.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8081",
		Service:        "lightmeshd",
		RequestTimeout: 2 * time.Second,
	}
}

type Server struct {
	cfg       Config
	ctrl      Controller
	hub       *Hub
	router    *gin.Engine
	validator auth.Validator
	started   time.Time
}

type sendRequest struct {
	Address    string `json:"address"`
	PayloadHex string `json:"payload_hex"`
	Reliable   bool   `json:"reliable"`
}

type pressRequest struct {
	Press string `json:"press"`
}

// New builds the router and registers every route. A nil hub disables
// /events.
func New(cfg Config, ctrl Controller, hub *Hub) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = DefaultConfig().Service
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(log.Logger, "/health", "/ready", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		hub:     hub,
		router:  r,
		started: time.Now(),
	}
	if cfg.Token != "" {
		s.validator = auth.StaticToken{Token: cfg.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.Service,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.ctrl.Snapshot()
		code := http.StatusOK
		if !snap.Ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   snap.Ready,
			"state":   snap.State,
			"service": s.cfg.Service,
			"version": Version,
		})
	})

	g := s.router.Group("/", s.requireToken)

	g.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Snapshot())
	})

	g.GET("/peers", func(c *gin.Context) {
		snap := s.ctrl.Snapshot()
		peers := snap.Peers
		if peers == nil {
			peers = []node.Peer{}
		}
		c.JSON(http.StatusOK, gin.H{"role": snap.Role, "peers": peers})
	})

	g.POST("/button", func(c *gin.Context) {
		var req pressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := node.ParsePress(req.Press)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := s.requestContext(c)
		defer cancel()
		if err := s.ctrl.Press(ctx, p); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("press", p.String()).Msg("admin button press")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "press": p.String()})
	})

	g.POST("/send", func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload, err := hex.DecodeString(strings.TrimSpace(req.PayloadHex))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload_hex: " + err.Error()})
			return
		}
		ctx, cancel := s.requestContext(c)
		defer cancel()
		id, err := s.ctrl.Send(ctx, strings.TrimSpace(req.Address), payload, req.Reliable)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		out := gin.H{"status": "ok", "reliable": req.Reliable}
		if req.Reliable {
			out["message_id"] = id
		}
		c.JSON(http.StatusOK, out)
	})

	g.POST("/wipe", func(c *gin.Context) {
		ctx, cancel := s.requestContext(c)
		defer cancel()
		if err := s.ctrl.Wipe(ctx); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		log.Warn().Msg("admin wipe")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.hub != nil {
		g.GET("/events", func(c *gin.Context) {
			s.hub.serveWs(c.Writer, c.Request)
		})
	}
}

// requireToken checks the bearer token when one is configured. Websocket
// clients may pass it as ?token= instead.
func (s *Server) requireToken(c *gin.Context) {
	if s.validator == nil {
		c.Next()
		return
	}
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if err := s.validator.Validate(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

// Serve listens on cfg.ListenAddr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrPayloadTooLarge),
		errors.Is(err, session.ErrNoDestination):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrOutboxFull):
		return http.StatusTooManyRequests
	case errors.Is(err, node.ErrNotStarted),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
