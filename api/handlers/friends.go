package handlers

import (
	"net/http"
	"time"

	"socialchat/api/middleware"
	"socialchat/services"

	"github.com/gin-gonic/gin"
)

type FriendHandler struct {
	friends *services.FriendService
}

func NewFriendHandler(friends *services.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

// RequestFriend - заявка в друзья пользователю :username
func (h *FriendHandler) RequestFriend(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	start := time.Now()
	edgeID, err := h.friends.RequestFriend(c.Request.Context(), userID, c.Param("username"))
	middleware.RecordFriendOperation("request", time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"edge_id": edgeID, "message": "friend request sent"})
}

type respondRequest struct {
	EdgeID   int64             `json:"edge_id" binding:"required"`
	Decision services.Decision `json:"decision" binding:"required"`
}

// Respond - принять или отклонить входящую заявку
func (h *FriendHandler) Respond(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	start := time.Now()
	err := h.friends.RespondToRequest(c.Request.Context(), req.EdgeID, userID, req.Decision)
	middleware.RecordFriendOperation("respond", time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edge_id": req.EdgeID, "decision": req.Decision})
}

func (h *FriendHandler) Pending(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	requests, err := h.friends.ListPending(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *FriendHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friends, err := h.friends.ListFriends(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// Online - друзья с открытым websocket
func (h *FriendHandler) Online(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friends, err := h.friends.ListFriendsOnline(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}
