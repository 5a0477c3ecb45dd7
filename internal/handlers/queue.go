package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/middleware"
	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

type QueueHandler struct {
	queue     *services.QueueManager
	scheduler *services.SessionScheduler
	log       *logrus.Logger
}

func NewQueueHandler(queue *services.QueueManager, scheduler *services.SessionScheduler, log *logrus.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, scheduler: scheduler, log: log}
}

func (h *QueueHandler) Join(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.JoinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	entry, err := h.queue.Join(c.Request.Context(), userID, &req)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	// Kick a promotion attempt so a free performer picks the viewer up
	// immediately instead of waiting for the drain ticker. The join itself
	// already succeeded, so a failed kick is logged rather than surfaced.
	session, promoteErr := h.scheduler.PromoteNext(c.Request.Context(), req.ResourceID)
	if promoteErr != nil {
		h.log.WithError(promoteErr).WithField("resource_id", req.ResourceID).Warn("promotion attempt after join failed")
	}

	resp := gin.H{
		"success": true,
		"entry":   entry,
	}
	if session != nil && session.UserID == userID {
		resp["session"] = session
	}
	c.JSON(http.StatusOK, resp)
}

func (h *QueueHandler) Leave(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.LeaveQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	entry, err := h.queue.Leave(c.Request.Context(), userID, req.ResourceID, services.LeaveReasonVoluntary)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entry":   entry,
	})
}

func (h *QueueHandler) Status(c *gin.Context) {
	userID := c.GetString("user_id")

	resourceID := c.Query("resource_id")
	if resourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id is required"})
		return
	}

	status, err := h.queue.Status(c.Request.Context(), resourceID, userID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  status,
	})
}
