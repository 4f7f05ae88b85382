package services

import (
	"encoding/json"
	"time"

	"socialchat/models"
)

// События, которые клиент отправляет по websocket
const (
	EventJoin  = "join"
	EventLeave = "leave"
	EventSend  = "send"
)

// События сервера
const (
	EventMessage    = "message"
	EventJoined     = "joined"
	EventLeft       = "left"
	EventError      = "error"
	EventConnected  = "connected"
	EventFriendship = "friendship"
)

// InboundFrame - входящее событие клиента
type InboundFrame struct {
	Event  string   `json:"event"`
	Room   RoomSpec `json:"room"`
	RoomID RoomID   `json:"room_id"`
	Body   string   `json:"body"`
}

type MessageFrame struct {
	Event     string             `json:"event"`
	RoomID    RoomID             `json:"room_id"`
	MessageID int64              `json:"message_id"`
	SenderID  int64              `json:"sender_id"`
	Sender    string             `json:"sender"`
	Body      string             `json:"body"`
	Timestamp time.Time          `json:"timestamp"`
	Kind      models.MessageKind `json:"kind"`
}

type RoomFrame struct {
	Event  string `json:"event"`
	RoomID RoomID `json:"room_id"`
}

type ErrorFrame struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ConnectedFrame struct {
	Event    string `json:"event"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func messageFrame(msg *models.Message) ([]byte, error) {
	return json.Marshal(MessageFrame{
		Event:     EventMessage,
		RoomID:    RoomID(msg.RoomID),
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Sender:    msg.SenderName,
		Body:      msg.Body,
		Timestamp: msg.CreatedAt,
		Kind:      msg.Kind,
	})
}

func roomFrame(event string, id RoomID) []byte {
	data, _ := json.Marshal(RoomFrame{Event: event, RoomID: id})
	return data
}

// errorFrame - текст ошибок хранилища и внутренних ошибок клиенту не отдаём
func errorFrame(err error) []byte {
	code := ErrorCode(err)
	message := err.Error()
	switch code {
	case "persistence_error", "internal_error":
		message = "internal server error"
	}
	data, _ := json.Marshal(ErrorFrame{Event: EventError, Error: code, Message: message})
	return data
}

func connectedFrame(userID int64, username string) []byte {
	data, _ := json.Marshal(ConnectedFrame{Event: EventConnected, UserID: userID, Username: username})
	return data
}
