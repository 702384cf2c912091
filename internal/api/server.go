// Package api exposes the segmenter's live state over HTTP: a REST status
// surface, a WebSocket feed of tagged messages, a geospatial debug index,
// and a JWT-protected admin endpoint for forcing shard eviction.
package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mmcloughlin/geohash"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/manager"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/segment"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

// Server is the HTTP/WebSocket front end over a Manager.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *utils.Logger
	cfg        *config.Config
	mgr        *manager.Manager
	hub        *hub
	upgrader   websocket.Upgrader
}

// NewServer wires routes and middleware around mgr. It does not start
// listening; call Start.
func NewServer(cfg *config.Config, mgr *manager.Manager, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewLogger("info", "text")
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(loggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(rateLimitMiddleware())
	router.Use(securityHeadersMiddleware())

	s := &Server{
		router: router,
		logger: logger,
		cfg:    cfg,
		mgr:    mgr,
		hub:    newHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.cfg.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/segments/:ssvid", s.getSegments)
		v1.GET("/index/geohash", s.getGeohashIndex)

		if s.cfg.Auth.JWTSecret != "" {
			admin := v1.Group("/admin")
			admin.Use(adminAuthMiddleware(s.cfg.Auth.JWTSecret))
			{
				admin.POST("/flush/:ssvid", s.flushSSVID)
			}
		}
	}

	s.router.GET("/ws/v1/segments", s.websocketHandler)
}

// SetManager attaches the Manager the server's routes query. Needed because
// the Manager's Sink is often constructed from the server's Publish method,
// creating a dependency cycle that only a post-construction wire-up breaks.
func (s *Server) SetManager(mgr *manager.Manager) {
	s.mgr = mgr
}

// Publish hands a tagged message to the WebSocket hub for broadcast. The
// Manager's Sink wiring calls this for every message it produces, so
// connected clients see the live feed.
func (s *Server) Publish(tagged segmenter.Tagged) {
	s.hub.Publish(tagged)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.WithField("address", s.cfg.Server.Address).Info("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"timestamp":     time.Now().Unix(),
		"active_shards": s.mgr.ActiveShards(),
	})
}

type segmentView struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Born     string   `json:"born"`
	MsgCount int      `json:"msg_count"`
	LastLat  *float64 `json:"last_lat,omitempty"`
	LastLon  *float64 `json:"last_lon,omitempty"`
}

func toSegmentView(seg *segment.Segment) segmentView {
	v := segmentView{ID: seg.ID, Kind: seg.Kind.String(), Born: seg.Born.UTC().Format(time.RFC3339), MsgCount: seg.MsgCount}
	if seg.LastPositionalMsg != nil {
		lat, lon := seg.LastPositionalMsg.Position.Lat, seg.LastPositionalMsg.Position.Lon
		v.LastLat, v.LastLon = &lat, &lon
	}
	return v
}

func (s *Server) getSegments(c *gin.Context) {
	ssvid, err := strconv.ParseInt(c.Param("ssvid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_ssvid", "message": err.Error()})
		return
	}

	segs, ok := s.mgr.Active(ssvid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no active shard for ssvid"})
		return
	}

	views := make([]segmentView, 0, len(segs))
	for _, seg := range segs {
		views = append(views, toSegmentView(seg))
	}
	c.JSON(http.StatusOK, gin.H{"ssvid": ssvid, "segments": views})
}

type geohashEntry struct {
	SSVID     int64  `json:"ssvid"`
	SegmentID string `json:"segment_id"`
	Geohash   string `json:"geohash"`
}

// getGeohashIndex returns a geohash-bucketed index of every active
// segment's last known position, for lightweight spatial debugging without
// standing up a full spatial index.
func (s *Server) getGeohashIndex(c *gin.Context) {
	precision := 6
	if p := c.Query("precision"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 && parsed <= 12 {
			precision = parsed
		}
	}

	all := s.mgr.AllActive()
	entries := make([]geohashEntry, 0)
	for ssvid, segs := range all {
		for _, seg := range segs {
			if seg.LastPositionalMsg == nil {
				continue
			}
			pos := seg.LastPositionalMsg.Position
			if math.IsNaN(pos.Lat) || math.IsNaN(pos.Lon) {
				continue
			}
			entries = append(entries, geohashEntry{
				SSVID:     ssvid,
				SegmentID: seg.ID,
				Geohash:   geohash.EncodeWithPrecision(pos.Lat, pos.Lon, uint(precision)),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"precision": precision, "entries": entries})
}

func (s *Server) flushSSVID(c *gin.Context) {
	ssvid, err := strconv.ParseInt(c.Param("ssvid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_ssvid", "message": err.Error()})
		return
	}
	if !s.mgr.ForceEvict(ssvid) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no active shard for ssvid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ssvid": ssvid, "flushed": true})
}

func (s *Server) websocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithField("error", err).Error("failed to upgrade to websocket")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- cl

	go cl.writePump()
	go cl.readPump(s.hub)
}

func loggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint, status).Observe(elapsed.Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()

		logger.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": elapsed.Milliseconds(),
			"client_ip":  c.ClientIP(),
		}).Info("HTTP request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func rateLimitMiddleware() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(100), 200)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"code": "rate_limit_exceeded", "message": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
