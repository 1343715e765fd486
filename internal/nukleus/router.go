package nukleus

import (
	"net/http"
	"time"

	"github.com/danmuck/wsctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const ControlPath = "/control"

// Router builds the admin surface for n: health, route table, metrics and the
// websocket control endpoint. Cross-origin browser requests, websocket
// upgrades included, are only allowed when listed in corsOrigins.
func Router(n *Node, logger zerolog.Logger, corsOrigins ...string) *gin.Engine {
	started := time.Now()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver(logger, n.Name()))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		st := n.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"nukleus": st.Name,
			"frozen":  st.Frozen,
			"routes":  st.Routes,
			"handled": st.Handled,
		})
	})

	r.GET("/routes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"nukleus": n.Name(),
			"routes":  n.Routes(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(ControlPath, gin.WrapH(WebSocketHandler(n, corsOrigins...)))
	return r
}
