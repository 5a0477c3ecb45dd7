package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"performer-slots-backend/internal/middleware"
	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

type GameHandler struct {
	scheduler *services.SessionScheduler
	store     *services.RedisService
	breaker   *services.BreakerGateway
	limiter   *services.RateLimiter
	spinSpec  services.WindowSpec
}

func NewGameHandler(scheduler *services.SessionScheduler, store *services.RedisService, breaker *services.BreakerGateway, limiter *services.RateLimiter, spinSpec services.WindowSpec) *GameHandler {
	return &GameHandler{
		scheduler: scheduler,
		store:     store,
		breaker:   breaker,
		limiter:   limiter,
		spinSpec:  spinSpec,
	}
}

func (h *GameHandler) Spin(c *gin.Context) {
	userID := c.GetString("user_id")

	var req models.SpinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	result, err := h.scheduler.Spin(c.Request.Context(), userID, &req)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

func (h *GameHandler) Complete(c *gin.Context) {
	userID := c.GetString("user_id")

	sessionID := c.Param("session_id")
	session, err := h.scheduler.Complete(c.Request.Context(), userID, sessionID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) Abandon(c *gin.Context) {
	userID := c.GetString("user_id")

	sessionID := c.Param("session_id")
	session, err := h.scheduler.Abandon(c.Request.Context(), userID, sessionID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) SpinHistory(c *gin.Context) {
	userID := c.GetString("user_id")

	sessionID := c.Param("session_id")
	session, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if session.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		limit = 50
	}

	spins, err := h.store.GetSpins(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"spins":   spins,
		"count":   len(spins),
	})
}

func (h *GameHandler) SessionHistory(c *gin.Context) {
	userID := c.GetString("user_id")

	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		limit = 50
	}

	sessions, err := h.store.GetUserSessions(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *GameHandler) Balance(c *gin.Context) {
	userID := c.GetString("user_id")

	balance, err := h.breaker.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(middleware.ErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": balance,
	})
}

func (h *GameHandler) RateLimitStatus(c *gin.Context) {
	userID := c.GetString("user_id")

	status, err := h.limiter.Remaining(c.Request.Context(), userID, h.spinSpec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"limit":   status,
	})
}
