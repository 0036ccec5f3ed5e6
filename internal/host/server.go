package host

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/blockbridge/internal/auth"
	"github.com/danmuck/blockbridge/internal/observability"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/danmuck/blockbridge/internal/transport/wsport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ServerConfig configures the host's HTTP surface.
type ServerConfig struct {
	Addr         string
	CorsOrigins  []string
	Codec        wire.Codec
	WriteTimeout time.Duration
	// AdminToken, when set, is required as a bearer token on mutating routes.
	AdminToken   string
}

// Server exposes a Host over HTTP and websockets.
type Server struct {
	host     *Host
	cfg      ServerConfig
	router   *gin.Engine
	appeared time.Time
}

func NewServer(h *Host, cfg ServerConfig) *Server {
	observability.RegisterMetrics()
	if cfg.Codec == nil {
		cfg.Codec = wire.JSONCodec{}
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, h.Name()))
	r.Use(observability.RequestMetricsMiddleware(h.Name()))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		host:     h,
		cfg:      cfg,
		router:   r,
		appeared: time.Now(),
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// RegisterRoutes mounts the admin API behind CORS and the block websocket
// endpoint outside it; block origins are gated by the host whitelist instead.
func (s *Server) RegisterRoutes() {
	s.router.GET("/ws", s.handleWebsocket)

	api := s.router.Group("")
	if origins := normalizeOrigins(s.cfg.CorsOrigins); len(origins) > 0 {
		api.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
		// Preflights only reach the cors handler through a matching route.
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
	}

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.host.Name(),
			"origin":  s.host.Origin(),
		})
	})

	api.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"service": s.host.Name(),
			"blocks":  len(s.host.Blocks()),
		})
	})

	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.GET("/blocks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"blocks": s.host.Blocks()})
	})

	api.GET("/store", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.host.Store().Snapshot())
	})

	var mutate []gin.HandlerFunc
	if s.cfg.AdminToken != "" {
		mutate = append(mutate, auth.RequireToken(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	api.POST("/blocks/close", append(mutate, s.handleClose)...)
}

func (s *Server) handleClose(c *gin.Context) {
	var id uint64
	if raw := strings.TrimSpace(c.Query("id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		id = parsed
	}
	asked, err := s.host.RequestClose(id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrBlockNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrCloseNotWanted):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "asked": asked})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	port, err := wsport.Accept(c.Writer, c.Request, wsport.AcceptConfig{
		Codec:        s.cfg.Codec,
		WriteTimeout: s.cfg.WriteTimeout,
		CheckOrigin:  s.host.AllowBlock,
	})
	if err != nil {
		log.Debug().Str("origin", c.GetHeader("Origin")).Err(err).Msg("host.Server websocket upgrade refused")
		return
	}
	defer port.Close()
	if err := s.host.Serve(c.Request.Context(), port); err != nil {
		log.Warn().Str("block_origin", port.PeerOrigin()).Err(err).Msg("host.Server block session ended")
	}
}

func (s *Server) Serve() error {
	log.Info().Str("addr", s.cfg.Addr).Str("origin", s.host.Origin()).Msg("host.Server listening")
	return s.router.Run(s.cfg.Addr)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
