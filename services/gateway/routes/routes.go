// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/opsonline/chattia-gateway/services/gateway/handlers"
	"github.com/opsonline/chattia-gateway/services/gateway/middleware"
)

// protectedPrefixes are the route groups that only accept POST; any
// other verb on them gets a JSON 405 instead of gin's default 404.
var protectedPrefixes = []string{"/api/", "/auth/", "/fallback/"}

// SetupRoutes wires the middleware chain and endpoints onto router.
func SetupRoutes(router *gin.Engine, d *handlers.Deps) {
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("chattia-gateway"))
	router.Use(middleware.Security(d.Cfg, d.Verifier.Channella()))

	router.GET("/health", handlers.HealthCheck())
	router.GET("/health/ok", handlers.HealthCheck())
	router.GET("/health/summary", handlers.HealthSummary(d))
	router.GET("/debug/storage", handlers.DebugStorage(d))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/issue", handlers.HandleIssue(d))
	router.POST("/api/chat", handlers.HandleChat(d))
	router.POST("/api/stt", handlers.HandleStt(d))
	router.POST("/fallback/escalate", handlers.HandleFallbackEscalate(d))

	// Wrong verb on a protected route is a 405; anything else unknown
	// under a protected prefix is a 404. Every other path answers a
	// plain OK so edge health probes of arbitrary paths stay cheap.
	router.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range protectedPrefixes {
			if strings.HasPrefix(path, prefix) {
				if routeExists(router, path) {
					c.Header("Cache-Control", "no-store")
					c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed"})
					return
				}
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
		}
		c.String(http.StatusOK, "OK")
	})
}

// routeExists reports whether any method is registered for path.
func routeExists(router *gin.Engine, path string) bool {
	for _, r := range router.Routes() {
		if r.Path == path {
			return true
		}
	}
	return false
}
