package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialchat/api/middleware"
	"socialchat/config"
	"socialchat/db"
	"socialchat/models"
	"socialchat/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testApp struct {
	orm     *gorm.DB
	router  *gin.Engine
	friends *services.FriendService
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orm, err := db.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(orm))

	log := zap.NewNop()
	store := services.NewGormGateway(orm)
	directory := services.NewGormDirectory(orm)
	registry := services.NewRegistry()
	friends := services.NewFriendService(store, directory, registry, log).
		WithEvents(services.NewLocalPublisher(registry))
	chat := services.NewChatService(store, directory, friends, registry, config.DefaultChatConfig(), log)

	friendHandler := NewFriendHandler(friends)
	chatHandler := NewChatHandler(chat, time.Minute, log)
	userHandler := NewUserHandler(directory)

	r := gin.New()
	api := r.Group("/api/v1/")
	api.Use(middleware.AuthMiddleware(services.NewTokenStore(orm), true))
	api.GET("user/get/:id", userHandler.Get)
	api.GET("user/find", userHandler.Find)
	api.POST("friends/request/:username", friendHandler.RequestFriend)
	api.POST("friends/respond", friendHandler.Respond)
	api.GET("friends/pending", friendHandler.Pending)
	api.GET("friends/list", friendHandler.List)
	api.GET("friends/online", friendHandler.Online)
	api.GET("ws", chatHandler.WS)
	api.GET("dialog/private/:user_id", chatHandler.PrivateHistory)
	api.GET("dialog/group/:group_id", chatHandler.GroupHistory)

	return &testApp{orm: orm, router: r, friends: friends}
}

func (a *testApp) createUser(t *testing.T, nickname string) models.User {
	t.Helper()
	user := models.User{Nickname: nickname, FirstName: strings.ToUpper(nickname[:1]) + nickname[1:]}
	require.NoError(t, a.orm.Create(&user).Error)
	return user
}

func (a *testApp) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestFriendRoutes(t *testing.T) {
	app := setupApp(t)
	alice := app.createUser(t, "alice")
	bob := app.createUser(t, "bob")

	w := app.do(t, http.MethodPost, "/api/v1/friends/request/bob", alice.ID, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	edgeID := int64(decode(t, w)["edge_id"].(float64))

	w = app.do(t, http.MethodPost, "/api/v1/friends/request/bob", alice.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_request", decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/api/v1/friends/request/alice", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "self_reference", decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/api/v1/friends/request/nobody", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/friends/pending", bob.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Requests []services.PendingRequest `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, edgeID, pending.Requests[0].EdgeID)
	assert.Equal(t, "alice", pending.Requests[0].Requester.Nickname)

	w = app.do(t, http.MethodPost, "/api/v1/friends/respond", alice.ID, gin.H{"edge_id": edgeID, "decision": "accept"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/friends/respond", bob.ID, gin.H{"edge_id": edgeID, "decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/friends/respond", bob.ID, gin.H{"edge_id": edgeID, "decision": "accept"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(t, http.MethodGet, "/api/v1/friends/list", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Friends []models.User `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Friends, 1)
	assert.Equal(t, "bob", list.Friends[0].Nickname)

	w = app.do(t, http.MethodGet, "/api/v1/friends/online", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Friends)
}

func TestRoutesRequireAuth(t *testing.T) {
	app := setupApp(t)
	w := app.do(t, http.MethodGet, "/api/v1/friends/list", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserRoutes(t *testing.T) {
	app := setupApp(t)
	alice := app.createUser(t, "alice")

	w := app.do(t, http.MethodGet, fmt.Sprintf("/api/v1/user/get/%d", alice.ID), alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["user"].(map[string]any)["nickname"])

	w = app.do(t, http.MethodGet, "/api/v1/user/find?nickname=alice", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/user/get/999", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/user/get/abc", alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDialogHistoryRequiresFriendship(t *testing.T) {
	app := setupApp(t)
	alice := app.createUser(t, "alice")
	bob := app.createUser(t, "bob")

	w := app.do(t, http.MethodGet, fmt.Sprintf("/api/v1/dialog/private/%d", bob.ID), alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	edgeID, err := app.friends.RequestFriend(context.Background(), alice.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, app.friends.RespondToRequest(context.Background(), edgeID, bob.ID, services.DecisionAccept))

	w = app.do(t, http.MethodGet, fmt.Sprintf("/api/v1/dialog/private/%d", bob.ID), alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(services.PrivateRoomID(alice.ID, bob.ID)), decode(t, w)["room_id"])

	w = app.do(t, http.MethodGet, "/api/v1/dialog/group/7", alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type wsFrame struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

func dialWS(t *testing.T, server *httptest.Server, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil читает фреймы, пока не встретит подходящий
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func event(name string) func(wsFrame) bool {
	return func(f wsFrame) bool { return f.Event == name }
}

func TestWebsocketPrivateChat(t *testing.T) {
	app := setupApp(t)
	alice := app.createUser(t, "alice")
	bob := app.createUser(t, "bob")
	edgeID, err := app.friends.RequestFriend(context.Background(), alice.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, app.friends.RespondToRequest(context.Background(), edgeID, bob.ID, services.DecisionAccept))

	server := httptest.NewServer(app.router)
	t.Cleanup(server.Close)

	aliceWS := dialWS(t, server, alice.ID)
	bobWS := dialWS(t, server, bob.ID)
	readUntil(t, aliceWS, event("connected"))
	readUntil(t, bobWS, event("connected"))

	require.NoError(t, aliceWS.WriteJSON(gin.H{"event": "join", "room": gin.H{"kind": "private", "user_id": bob.ID}}))
	joined := readUntil(t, aliceWS, event("joined"))
	room := joined.RoomID
	assert.Equal(t, string(services.PrivateRoomID(alice.ID, bob.ID)), room)

	require.NoError(t, bobWS.WriteJSON(gin.H{"event": "join", "room": gin.H{"kind": "private", "user_id": alice.ID}}))
	readUntil(t, bobWS, event("joined"))

	require.NoError(t, aliceWS.WriteJSON(gin.H{"event": "send", "room_id": room, "body": "hi"}))
	isChat := func(f wsFrame) bool { return f.Event == "message" && f.Kind == "chat" }
	for _, conn := range []*websocket.Conn{aliceWS, bobWS} {
		msg := readUntil(t, conn, isChat)
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, "hi", msg.Body)
		assert.Equal(t, room, msg.RoomID)
	}

	// bob уходит - alice видит системное сообщение
	require.NoError(t, bobWS.Close())
	left := readUntil(t, aliceWS, func(f wsFrame) bool { return f.Event == "message" && f.Kind == "presence" })
	assert.Equal(t, "bob has left the room", left.Body)
}

func TestWebsocketJoinWithoutFriendship(t *testing.T) {
	app := setupApp(t)
	alice := app.createUser(t, "alice")
	bob := app.createUser(t, "bob")

	server := httptest.NewServer(app.router)
	t.Cleanup(server.Close)

	aliceWS := dialWS(t, server, alice.ID)
	require.NoError(t, aliceWS.WriteJSON(gin.H{"event": "join", "room": gin.H{"kind": "private", "user_id": bob.ID}}))
	errFrame := readUntil(t, aliceWS, event("error"))
	assert.Equal(t, "unauthorized", errFrame.Error)
}

func TestWebsocketRequiresAuth(t *testing.T) {
	app := setupApp(t)
	server := httptest.NewServer(app.router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
