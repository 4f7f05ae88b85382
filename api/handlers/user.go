package handlers

import (
	"net/http"

	"socialchat/services"

	"github.com/gin-gonic/gin"
)

type UserInfo struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	Firstname string `json:"first_name"`
	Lastname  string `json:"last_name"`
}

type UserHandler struct {
	directory services.Directory
}

func NewUserHandler(directory services.Directory) *UserHandler {
	return &UserHandler{directory: directory}
}

// Get - профиль по id
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	user, err := h.directory.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": UserInfo{
		ID:        user.ID,
		Nickname:  user.Nickname,
		Firstname: user.FirstName,
		Lastname:  user.LastName,
	}})
}

// Find - профиль по точному никнейму
func (h *UserHandler) Find(c *gin.Context) {
	nickname := c.Query("nickname")
	if nickname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname is required"})
		return
	}
	user, err := h.directory.FindByUsername(c.Request.Context(), nickname)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": UserInfo{
		ID:        user.ID,
		Nickname:  user.Nickname,
		Firstname: user.FirstName,
		Lastname:  user.LastName,
	}})
}
