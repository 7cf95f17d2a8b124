package httpapi

import (
	"errors"
	"net/http"

	"voicebridge/internal/analytics"
	"voicebridge/internal/calls"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/health"
	"voicebridge/internal/tenant"
	"voicebridge/internal/transcript"
	"voicebridge/internal/voicemail"
	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls      *calls.Service
	Transcript *transcript.Service
	Analytics  *analytics.Service
	Voicemails *voicemail.Service
	Health     *health.Service
}

// CallCreated handles the call-creation trigger.
func (h Handlers) CallCreated(c *gin.Context) {
	var req calls.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	result, err := h.Calls.Create(c.Request.Context(), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// CallDisconnected handles the disconnect/reroute trigger.
func (h Handlers) CallDisconnected(c *gin.Context) {
	var req calls.DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := h.Calls.Disconnect(c.Request.Context(), req); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

type transcriptRequest struct {
	Segments []transcript.Segment `json:"segments" binding:"required"`
}

// TranscriptSegments handles the real-time transcript trigger. The
// response is always 200 with a per-batch report: batch failures are
// outcomes, not request errors.
func (h Handlers) TranscriptSegments(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	report := h.Transcript.Deliver(c.Request.Context(), req.Segments)
	c.JSON(http.StatusOK, report)
}

// PostCallAnalytics handles the post-call analytics trigger.
func (h Handlers) PostCallAnalytics(c *gin.Context) {
	var event analytics.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := h.Analytics.Deliver(c.Request.Context(), event); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// Voicemail handles the voicemail packaging trigger.
func (h Handlers) Voicemail(c *gin.Context) {
	var pkg voicemail.Package
	if err := c.ShouldBindJSON(&pkg); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := h.Voicemails.Upload(c.Request.Context(), pkg); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "uploaded"})
}

// Healthz is the shallow liveness probe.
func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthzDeep probes every backing dependency.
func (h Handlers) HealthzDeep(c *gin.Context) {
	report := h.Health.RunAll(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusFailed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// abortWith maps service errors onto trigger-facing statuses. Upstream
// dispatch failures are the CRM's fault, not the caller's, so they
// surface as 502.
func abortWith(c *gin.Context, err error) {
	logger.FromGin(c).Error("trigger failed", "path", c.FullPath(), "err", err)

	switch {
	case errors.Is(err, tenant.ErrNoTenantIdentifier),
		errors.Is(err, voicemail.ErrNoRecording):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNoTenantContext),
		errors.Is(err, voicemail.ErrNoTenantContext),
		errors.Is(err, tenant.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tenant.ErrMalformed),
		errors.Is(err, analytics.ErrNoAccessToken):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, tenant.ErrBackendUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		var de *dispatch.Error
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &de) || errors.As(err, &exhausted) {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
