package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"socialchat/services"

	"github.com/gin-gonic/gin"
)

func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, services.ErrSelfReference),
		errors.Is(err, services.ErrInvalidDecision),
		errors.Is(err, services.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError - ошибка сервиса в JSON: код для клиента и текст
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	c.JSON(status, gin.H{"error": services.ErrorCode(err), "message": message})
}

func currentUserID(c *gin.Context) (int64, bool) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}
