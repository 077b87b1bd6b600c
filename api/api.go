package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jerry-enebeli/swapflow"
	"github.com/jerry-enebeli/swapflow/api/middleware"
	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/internal/apierror"
	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/internal/subscribers"
)

type Api struct {
	swapflow *swapflow.Swapflow
	registry *subscribers.Registry
	metrics  *metrics.Metrics
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/orders", a.CreateOrder)
	router.GET("/orders", a.GetAllOrders)
	router.GET("/orders/ws", a.SubscribeOrders)
	router.GET("/orders/:id", a.GetOrder)

	router.GET("/jobs/dead-letters", a.GetDeadLetters)
	router.POST("/jobs/dead-letters/:id/replay", a.ReplayJob)
	router.GET("/jobs/:id", a.GetJob)

	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}
	return a.router
}

// NewAPI wires the HTTP surface. registry may be nil on a process that does
// not hold live subscribers, m may be nil when metrics are disabled.
func NewAPI(s *swapflow.Swapflow, registry *subscribers.Registry, m *metrics.Metrics, conf *config.Configuration) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RateLimitMiddleware(conf.RateLimit))
	if conf.EnableTracing {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf.Server.SecretKey))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{
		swapflow: s,
		registry: registry,
		metrics:  m,
		router:   r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
