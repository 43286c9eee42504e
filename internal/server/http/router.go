package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"iris/internal/agent"
	"iris/internal/agent/ports"
	"iris/internal/device"
	"iris/internal/logging"
	"iris/internal/observability"
	"iris/internal/server/app"
	"iris/internal/session"
)

// AgentHeader carries the lowest-priority agent hint.
const AgentHeader = "X-Iris-Agent"

// TurnRunner executes agent turns.
type TurnRunner interface {
	Run(ctx context.Context, req agent.TurnRequest) (agent.TurnResult, error)
	Stream(ctx context.Context, req agent.TurnRequest) (<-chan ports.Event, error)
}

// AgentResolver picks the agent for a request.
type AgentResolver interface {
	Resolve(ctx context.Context, sessionID string, hints ...string) (agent.Resolution, error)
}

// DeviceRegistry is the device table behind /devices.
type DeviceRegistry interface {
	Register(d device.Device) (device.Device, bool, error)
	Remove(id string) bool
	List() []device.Device
	Count() int
}

// TranscriptReader reads session transcripts.
type TranscriptReader interface {
	GetMessages(ctx context.Context, sessionID string) []session.Message
}

// TrajectoryReader reads recorded turns.
type TrajectoryReader interface {
	Load(ctx context.Context, sessionID string) ([]ports.TurnRecord, error)
	ExportYAML(ctx context.Context, sessionID string, w io.Writer) error
}

// RouterDeps are the services the handlers use. Trajectories, Hub and
// Metrics are optional; their routes are skipped when nil.
type RouterDeps struct {
	Turns          TurnRunner
	Resolver       AgentResolver
	Devices        DeviceRegistry
	Sessions       TranscriptReader
	Trajectories   TrajectoryReader
	Hub            *app.WidgetHub
	Metrics        http.Handler
	Tracer         *observability.TracerProvider
	Agents         []string
	AllowedOrigins []string
	StartedAt      time.Time
}

// NewRouter wires every endpoint onto a gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	logger := logging.NewComponentLogger("http")

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(TracingMiddleware(deps.Tracer))
	engine.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	turns := &turnHandler{turns: deps.Turns, resolver: deps.Resolver, logger: logger}
	engine.POST("/chat", turns.handleChat)
	engine.POST("/chat/stream", turns.handleChatStream)

	v1 := engine.Group("/v1")
	{
		v1.POST("/turns", turns.handleTurn)
		v1.POST("/turns/stream", turns.handleTurnStream)
	}

	devices := &deviceHandler{devices: deps.Devices}
	engine.POST("/devices", devices.handleRegister)
	engine.GET("/devices", devices.handleList)
	engine.DELETE("/devices/:id", devices.handleRemove)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"devices": deps.Devices.Count(),
			"uptime":  time.Since(deps.StartedAt).Round(time.Second).String(),
			"agents":  deps.Agents,
		})
	})

	sessions := &sessionHandler{sessions: deps.Sessions, trajectories: deps.Trajectories}
	engine.GET("/sessions/:id/messages", sessions.handleMessages)
	if deps.Trajectories != nil {
		engine.GET("/sessions/:id/trajectory", sessions.handleTrajectory)
	}

	if deps.Hub != nil {
		feed := &widgetFeed{
			hub:    deps.Hub,
			logger: logging.NewComponentLogger("widget-feed"),
			upgrader: websocket.Upgrader{
				ReadBufferSize:  1024,
				WriteBufferSize: 4096,
				CheckOrigin:     func(*http.Request) bool { return true },
			},
		}
		engine.GET("/ws/widgets", feed.handle)
	}
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", AgentHeader, requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader}
	cfg.AllowWebSockets = true
	return cfg
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
