package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/auth"
	"github.com/your-org/visage/internal/recognition"
)

type RouterConfig struct {
	APIKey  string
	Service *recognition.Service
	// Hub, Uploader and Queue are optional. Without them the WebSocket and
	// async capture routes are not registered.
	Hub      *ws.Hub
	Uploader handlers.CaptureUploader
	Queue    handlers.CaptureQueue
	Checks   map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth, scoped to one user)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey), auth.UserScopeMiddleware())

	personH := handlers.NewPersonHandler(cfg.Service)
	v1.POST("/people/first-meeting", personH.FirstMeeting)
	v1.GET("/people", personH.List)
	v1.GET("/people/search", personH.Search)
	v1.GET("/people/:id", personH.Get)
	v1.POST("/people/:id/faces", personH.AddFace)
	v1.DELETE("/people", personH.DeleteByName)
	v1.DELETE("/people/:id", personH.Delete)

	recH := handlers.NewRecognizeHandler(cfg.Service)
	v1.POST("/recognize", recH.Recognize)
	v1.POST("/recognize/group", recH.Group)

	if cfg.Uploader != nil && cfg.Queue != nil {
		capH := handlers.NewCaptureHandler(cfg.Uploader, cfg.Queue)
		v1.POST("/captures", capH.Create)
	}

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("X-API-Key", "X-User-ID")
	return c
}
