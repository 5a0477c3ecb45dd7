package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"performer-slots-backend/internal/middleware"
	"performer-slots-backend/internal/services"
)

type AuditHandler struct {
	audit *services.AuditReader
}

func NewAuditHandler(audit *services.AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func parseRange(c *gin.Context) (time.Time, time.Time) {
	from := time.Unix(0, 0)
	to := time.Now()

	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}

// Trail serves the merged event timeline for a user or a resource.
func (h *AuditHandler) Trail(c *gin.Context) {
	from, to := parseRange(c)

	userID := c.Query("user_id")
	resourceID := c.Query("resource_id")

	switch {
	case userID != "":
		events, err := h.audit.TrailByUser(c.Request.Context(), userID, from, to)
		if err != nil {
			c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "events": events, "count": len(events)})
	case resourceID != "":
		events, err := h.audit.TrailByResource(c.Request.Context(), resourceID, from, to)
		if err != nil {
			c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "events": events, "count": len(events)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or resource_id is required"})
	}
}

func (h *AuditHandler) Verify(c *gin.Context) {
	transactionID := c.Param("transaction_id")

	report, err := h.audit.VerifyIntegrity(c.Request.Context(), transactionID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}
