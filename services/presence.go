package services

import (
	"context"
	"fmt"

	"socialchat/models"

	"go.uber.org/zap"
)

// PresenceNotifier рассылает системные сообщения о входе и выходе из комнаты
type PresenceNotifier struct {
	router *MessageRouter
	log    *zap.Logger
}

func NewPresenceNotifier(router *MessageRouter, log *zap.Logger) *PresenceNotifier {
	return &PresenceNotifier{router: router, log: log}
}

func displayName(userID int64, username string) string {
	if username != "" {
		return username
	}
	return fmt.Sprintf("User %d", userID)
}

func (p *PresenceNotifier) AnnounceJoin(ctx context.Context, roomID RoomID, userID int64, username string) {
	p.announce(ctx, roomID, userID, displayName(userID, username)+" has joined the room")
}

func (p *PresenceNotifier) AnnounceLeave(ctx context.Context, roomID RoomID, userID int64, username string) {
	p.announce(ctx, roomID, userID, displayName(userID, username)+" has left the room")
}

// announce не возвращает ошибок: присутствие не должно ломать вход и выход
func (p *PresenceNotifier) announce(ctx context.Context, roomID RoomID, userID int64, body string) {
	ref, err := ParseRoomID(roomID)
	if err != nil {
		p.log.Warn("presence for unknown room", zap.String("room_id", string(roomID)), zap.Error(err))
		return
	}
	msg := p.router.newMessage(roomID, ref, userID, models.SystemSenderName, body, models.KindPresence)
	// в приватной комнате получатель - собеседник вошедшего, отправитель - System
	msg.SenderID = models.SystemSenderID
	if err := p.router.route(ctx, roomID, msg, nil); err != nil {
		p.log.Warn("presence broadcast failed", zap.String("room_id", string(roomID)), zap.Error(err))
	}
}
