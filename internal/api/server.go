// Package api exposes the dashboard surface: REST endpoints for positions,
// trades, and risk, plus a websocket stream of engine events.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-bridge/internal/engine"
	"trading-bridge/internal/events"
	"trading-bridge/internal/monitor"
	"trading-bridge/internal/protocol"
	"trading-bridge/internal/risk"
	"trading-bridge/internal/state"
	"trading-bridge/pkg/config"
	"trading-bridge/pkg/db"
)

// Server wires HTTP endpoints around the coordinator and the event bus.
type Server struct {
	Router       *gin.Engine
	Bus          *events.Bus
	DB           *db.Database
	Coordinator  *engine.Coordinator
	RiskState    *risk.State
	Store        *state.Store
	Settings     *config.SettingsStore
	Gateway      *protocol.Gateway
	Metrics      *monitor.Collector
	JWTSecret    string
	DashboardKey string
	Meta         SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Version    string
	ListenAddr string
	StartedAt  time.Time
}

func NewServer(bus *events.Bus, database *db.Database, coord *engine.Coordinator,
	riskState *risk.State, store *state.Store, settings *config.SettingsStore,
	gw *protocol.Gateway, metrics *monitor.Collector, meta SystemMeta,
	jwtSecret, dashboardKey string) *Server {

	r := gin.New()

	var requestLatency *monitor.LatencyHistogram
	if metrics != nil {
		requestLatency = metrics.RequestLatency
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(requestLatency))
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		DB:           database,
		Coordinator:  coord,
		RiskState:    riskState,
		Store:        store,
		Settings:     settings,
		Gateway:      gw,
		Metrics:      metrics,
		JWTSecret:    jwtSecret,
		DashboardKey: dashboardKey,
		Meta:         meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/system/metrics", s.getSystemMetrics)

		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/trades", s.getTrades)
			protected.GET("/trades/active", s.getActiveTrades)
			protected.GET("/risk", s.getRiskStatus)
			protected.GET("/settings", s.getSettings)
			protected.PUT("/settings", s.updateSettings)

			protected.POST("/predictions/:instrument", s.requestPrediction)
			protected.POST("/trades", s.submitManualTrade)
			protected.POST("/positions/:instrument/reset", s.resetPosition)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
