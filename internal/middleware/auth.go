package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)

		c.Next()
	}
}

// ErrorStatus maps the core's error taxonomy to HTTP statuses. Handlers
// share it so a given failure always looks the same on the wire.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrQueueFull),
		errors.Is(err, models.ErrAlreadyQueued),
		errors.Is(err, models.ErrSessionAlreadyActive),
		errors.Is(err, models.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrInvalidBet), errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotQueued), errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
