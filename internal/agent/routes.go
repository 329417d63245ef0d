package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/execctl/internal/auth"
	"github.com/danmuck/execctl/internal/observability"
	"github.com/danmuck/execctl/internal/posixrun"
	"github.com/danmuck/execctl/internal/resource"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func (s *Service) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log, s.cfg.Name))
	r.Use(observability.RequestMetricsMiddleware(s.metrics, s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"agent":   s.cfg.Name,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		unresolved := s.bindings.Unresolved()
		status := http.StatusOK
		if len(unresolved) > 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":      len(unresolved) == 0,
			"unresolved": unresolved,
			"agent":      s.cfg.Name,
			"version":    version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.GET("/handlers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"handlers": s.Handlers()})
	})

	r.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"host":      s.manifest.Host,
			"resources": listResources(s.manifest),
		})
	})

	mutating := r.Group("/")
	if s.cfg.AuthToken != "" {
		mutating.Use(auth.Require(auth.StaticToken{Token: s.cfg.AuthToken}, s.log))
	}
	mutating.POST("/resources/:name/apply", s.applyHandler(posixrun.ModeApply))
	mutating.POST("/resources/:name/reload", s.applyHandler(posixrun.ModeReload))

	mutating.POST("/reconcile", func(c *gin.Context) {
		mode, err := ParseMode(c.Query("mode"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcomes := s.Reconcile(passContext(c), mode)
		c.JSON(http.StatusOK, gin.H{"mode": mode, "outcomes": outcomes})
	})
	return r
}

func (s *Service) applyHandler(mode posixrun.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome, err := s.ApplyOne(passContext(c), c.Param("name"), mode)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrResourceNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

// passContext detaches a pass from its request so a dropped client does
// not kill commands mid-run.
func passContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

type ResourceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Command    string `json:"command"`
	ReloadOnly bool   `json:"reload_only"`
}

func listResources(m resource.Manifest) []ResourceInfo {
	list := make([]ResourceInfo, 0, len(m.Runs))
	for _, run := range m.Runs {
		list = append(list, ResourceInfo{
			ID:         run.ID(),
			Name:       run.Handle(),
			Command:    run.Command,
			ReloadOnly: run.ReloadOnly,
		})
	}
	return list
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
