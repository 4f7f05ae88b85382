package handlers

import (
	"net/http"

	"socialchat/services"

	"github.com/gin-gonic/gin"
)

// PrivateHistory - последние сообщения переписки с :user_id (только для друзей)
func (h *ChatHandler) PrivateHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	otherID, ok := int64Param(c, "user_id")
	if !ok {
		return
	}
	messages, err := h.chat.PrivateHistory(c.Request.Context(), userID, otherID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": services.PrivateRoomID(userID, otherID), "messages": messages})
}

// GroupHistory - последние сообщения группы :group_id
func (h *ChatHandler) GroupHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := int64Param(c, "group_id")
	if !ok {
		return
	}
	messages, err := h.chat.GroupHistory(c.Request.Context(), userID, groupID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": services.GroupRoomID(groupID), "messages": messages})
}
