package routes

import (
	"socialchat/api/handlers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers - обработчики, которые собирает server.go
type Handlers struct {
	Friends *handlers.FriendHandler
	Chat    *handlers.ChatHandler
	Users   *handlers.UserHandler
}

func PublicApi(router *gin.Engine, h Handlers, auth gin.HandlerFunc) *gin.RouterGroup {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	publicEndpoints := router.Group("/api/v1/")
	publicEndpoints.Use(auth)
	{
		publicEndpoints.GET("user/get/:id", h.Users.Get)
		publicEndpoints.GET("user/find", h.Users.Find)

		// Друзья
		publicEndpoints.POST("friends/request/:username", h.Friends.RequestFriend)
		publicEndpoints.POST("friends/respond", h.Friends.Respond)
		publicEndpoints.GET("friends/pending", h.Friends.Pending)
		publicEndpoints.GET("friends/list", h.Friends.List)
		publicEndpoints.GET("friends/online", h.Friends.Online)

		// Чат
		publicEndpoints.GET("ws", h.Chat.WS)
		publicEndpoints.GET("dialog/private/:user_id", h.Chat.PrivateHistory)
		publicEndpoints.GET("dialog/group/:group_id", h.Chat.GroupHistory)
	}
	return publicEndpoints
}
