package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callrecording-platform/internal/auth"
	"callrecording-platform/internal/cdr"
	"callrecording-platform/internal/jobs"
	"callrecording-platform/internal/rbac"
	"callrecording-platform/internal/usage"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Jobs     jobs.Store
	Records  cdr.Repo
	Analyses cdr.AnalysisRepo
	Usage    usage.Recorder
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	tok, err := h.Auth.IssueAccess(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Jobs ---

// ListJobs returns the caller's tenant's jobs, optionally filtered by
// ?status=, newest first.
func (h Handlers) ListJobs(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	status := jobs.Status(c.Query("status"))
	switch status {
	case "", jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..500"})
			return
		}
		limit = n
	}

	list, err := h.Jobs.List(c.Request.Context(), tenantID, status, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (h Handlers) GetJob(c *gin.Context) {
	job, ok := h.tenantJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// ReArmJob returns a terminal failed job to pending with a fresh attempt
// budget. RBAC: admin or operator.
func (h Handlers) ReArmJob(c *gin.Context) {
	job, ok := h.tenantJob(c)
	if !ok {
		return
	}

	err := h.Jobs.ReArm(c.Request.Context(), job.ID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "only failed jobs can be re-armed"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "re-arm failed"})
		return
	}

	job, getErr := h.Jobs.GetByID(c.Request.Context(), job.ID)
	if getErr != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// tenantJob loads the :job_id job and enforces tenant ownership. A foreign
// tenant's job is reported as missing, not forbidden.
func (h Handlers) tenantJob(c *gin.Context) (jobs.Job, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return jobs.Job{}, false
	}

	job, err := h.Jobs.GetByID(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return jobs.Job{}, false
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return jobs.Job{}, false
	}
	if job.TenantID != tenantID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return jobs.Job{}, false
	}
	return job, true
}

// --- Calls ---

// GetCall returns one call record plus its analysis when one exists.
func (h Handlers) GetCall(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	record, err := h.Records.GetByID(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		if errors.Is(err, cdr.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if record.TenantID != tenantID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	resp := gin.H{"call": record}
	analysis, err := h.Analyses.GetByCallRecordID(c.Request.Context(), record.ID)
	switch {
	case err == nil:
		resp["analysis"] = analysis
	case errors.Is(err, cdr.ErrNotFound):
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "analysis lookup failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- Usage ---

// GetUsage returns the tenant's counters for ?period= (default: the current
// month).
func (h Handlers) GetUsage(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	period := c.Query("period")
	if period == "" {
		period = usage.PeriodOf(time.Now())
	} else if _, err := time.Parse("2006-01", period); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "period must be YYYY-MM"})
		return
	}

	counters, err := h.Usage.Get(c.Request.Context(), tenantID, period)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
		return
	}
	c.JSON(http.StatusOK, counters)
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
