// Package web serves the device management interface: the configuration
// pages, the firmware upload endpoint and the status API.
package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/auth"
	"github.com/theminus/minosd/internal/flash"
	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/internal/sysinfo"
	"github.com/theminus/minosd/internal/system"
	"github.com/theminus/minosd/internal/wifi"
	"github.com/theminus/minosd/pkg/config"
)

const authRealm = `Basic realm="MiNOS"`

// Events receives lifecycle notifications from the handlers. Implementations
// must be non-blocking or fast; failures are their own problem.
type Events interface {
	Updated(version string)
	UpdateFailed(reason string)
	Rebooting(reason string)
}

// noopEvents drops all notifications.
type noopEvents struct{}

func (noopEvents) Updated(string)      {}
func (noopEvents) UpdateFailed(string) {}
func (noopEvents) Rebooting(string)    {}

// Server wires the device subsystems into the HTTP interface.
type Server struct {
	cfg       *config.Config
	store     *settings.Store
	bank      *flash.FileBank
	auth      *auth.Service
	wifi      *wifi.Manager
	restarter system.Restarter
	collector *sysinfo.Collector
	events    Events
}

// NewServer assembles the HTTP layer. events may be nil.
func NewServer(
	cfg *config.Config,
	store *settings.Store,
	bank *flash.FileBank,
	authService *auth.Service,
	wifiManager *wifi.Manager,
	restarter system.Restarter,
	collector *sysinfo.Collector,
	events Events,
) *Server {
	if events == nil {
		events = noopEvents{}
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		bank:      bank,
		auth:      authService,
		wifi:      wifiManager,
		restarter: restarter,
		collector: collector,
		events:    events,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/styles.css", s.handleCSS)
	router.POST("/auth/token", s.handleIssueToken)

	authed := router.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/", s.handleRoot)
		authed.GET("/module-configuration", s.handleModuleConfiguration)
		authed.GET("/wifi", s.handleWifi)
		authed.POST("/wifi", s.handleWifi)
		authed.POST("/doUpdate", s.handleUpdate)
		authed.GET("/reboot", s.handleReboot)
		authed.POST("/factory-reset", s.handleFactoryReset)
		authed.GET("/sysinfo", s.handleSysinfo)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// authMiddleware accepts either HTTP Basic credentials checked against the
// stored login and password hash, or a bearer token from /auth/token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		switch {
		case strings.HasPrefix(header, "Basic "):
			login, password, ok := c.Request.BasicAuth()
			if ok && s.auth.CheckCredentials(login, password) {
				c.Next()
				return
			}
		case strings.HasPrefix(header, "Bearer "):
			token := strings.TrimPrefix(header, "Bearer ")
			if err := s.auth.ValidateToken(token); err == nil {
				c.Next()
				return
			}
		}

		c.Header("WWW-Authenticate", authRealm)
		c.String(http.StatusUnauthorized, "Unauthorized")
		c.Abort()
	}
}
