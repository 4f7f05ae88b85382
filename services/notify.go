package services

import (
	"context"
	"encoding/json"
	"time"
)

// Типы уведомлений о дружбе
const (
	FriendRequestReceived = "request_received"
	FriendRequestAccepted = "request_accepted"
	FriendRequestRejected = "request_rejected"
)

// FriendshipEvent - уведомление пользователю UserID о действии PeerID
type FriendshipEvent struct {
	Type      string    `json:"type"`
	EdgeID    int64     `json:"edge_id"`
	UserID    int64     `json:"user_id"`
	PeerID    int64     `json:"peer_id"`
	PeerName  string    `json:"peer_name"`
	CreatedAt time.Time `json:"created_at"`
}

// EventPublisher доставляет уведомления о дружбе живым соединениям получателя
type EventPublisher interface {
	Publish(ctx context.Context, event FriendshipEvent) error
}

type friendshipFrame struct {
	Event string `json:"event"`
	FriendshipEvent
}

func friendshipEventFrame(event FriendshipEvent) ([]byte, error) {
	return json.Marshal(friendshipFrame{Event: EventFriendship, FriendshipEvent: event})
}

// LocalPublisher отправляет уведомления напрямую через Registry этого процесса
type LocalPublisher struct {
	registry *Registry
}

func NewLocalPublisher(registry *Registry) *LocalPublisher {
	return &LocalPublisher{registry: registry}
}

func (p *LocalPublisher) Publish(_ context.Context, event FriendshipEvent) error {
	frame, err := friendshipEventFrame(event)
	if err != nil {
		return err
	}
	p.registry.SendToUser(event.UserID, frame)
	return nil
}
