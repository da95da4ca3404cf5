package main

import (
	"database/sql"
	"net/http"
	"time"

	"callrecording-platform/internal/cdr"
	"callrecording-platform/internal/httpapi"
	"callrecording-platform/internal/rbac"
	"callrecording-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, ingest *cdr.Service, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// PBX webhooks (public URL, authenticated per connection by shared secret).
	webhook := cdr.WebhookHandler{Service: ingest}
	r.POST("/webhooks/pbx/:connection_id", webhook.Handle)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", rbac.RequireTenant(), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"user_id":   c.GetString("user_id"),
				"tenant_id": c.GetString("tenant_id"),
				"role":      c.GetString("role"),
			})
		})

		// JOBS routes
		jobsGroup := v1.Group("/jobs",
			httpapi.RequireTenantAndAnyRole(rbac.RoleAdmin, rbac.RoleOperator, rbac.RoleAnalyst)...)
		{
			jobsGroup.GET("", h.ListJobs)
			jobsGroup.GET("/:job_id", h.GetJob)

			// Re-arming retries a failed job; analysts are read-only.
			jobsGroup.POST("/:job_id/rearm",
				rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleOperator), h.ReArmJob)
		}

		// CALLS routes
		calls := v1.Group("/calls",
			httpapi.RequireTenantAndAnyRole(rbac.RoleAdmin, rbac.RoleOperator, rbac.RoleAnalyst)...)
		{
			calls.GET("/:call_id", h.GetCall)
		}

		// USAGE routes
		usageMW := httpapi.RequireTenantAndAnyRole(rbac.RoleAdmin, rbac.RoleOperator)
		v1.GET("/usage", append(usageMW, h.GetUsage)...)
	}
}
