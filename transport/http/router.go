package http

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/layer-3/gatekeeper/service"
)

// RouterConfig configures the page family in front of the upstream renderer
type RouterConfig struct {
	Gate     GateConfig
	Locale   LocaleConfig
	Upstream *url.URL // Pages that pass the gate are proxied here, nil answers 404
}

// SetupRouter sets up the Gin router
func SetupRouter(
	authService *service.AuthService,
	relayService *service.RelayService,
	sessions ports.SessionStore,
	metrics *Metrics,
	log *slog.Logger,
	cfg RouterConfig,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	// Create handlers
	authHandlers := NewAuthHandlers(authService, metrics, log)
	relayHandlers := NewRelayHandlers(relayService, metrics, log)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.GET("/nonce", authHandlers.Nonce)
		auth.POST("/verify", RequireJSON(), authHandlers.Verify)
		auth.GET("/session", authHandlers.Session)
		auth.POST("/logout", authHandlers.Logout)
	}

	// Relay routes
	relay := router.Group("/relay")
	{
		relay.GET("/status", relayHandlers.Status)
		relay.POST("/edit", RequireSession(sessions), RequireJSON(), relayHandlers.Edit)
		relay.POST("/authorize", RequireSession(sessions), RequireJSON(), relayHandlers.Authorize)
	}

	// Everything else is a page: localize docs, gate protected prefixes, then hand off.
	pages := []gin.HandlerFunc{
		Locale(cfg.Locale),
		Gate(cfg.Gate, sessions, metrics, log),
	}
	if cfg.Upstream != nil {
		proxy := httputil.NewSingleHostReverseProxy(cfg.Upstream)
		pages = append(pages, gin.WrapH(proxy))
	} else {
		pages = append(pages, func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		})
	}
	router.NoRoute(pages...)

	return router
}
