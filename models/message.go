package models

import (
	"time"
)

type MessageScope string

const (
	ScopePrivate MessageScope = "private"
	ScopeGroup   MessageScope = "group"
)

type MessageKind string

const (
	KindChat     MessageKind = "chat"
	KindPresence MessageKind = "presence"
)

// Системные сообщения (вход/выход из комнаты) пишутся от имени System
const (
	SystemSenderID   int64 = 0
	SystemSenderName       = "System"
)

// Message - сообщение комнаты. После сохранения не изменяется
type Message struct {
	ID         int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   int64        `gorm:"column:sender_id;index" json:"sender_id"`
	SenderName string       `gorm:"size:60" json:"sender"`
	ReceiverID *int64       `gorm:"column:receiver_id;index" json:"receiver_id,omitempty"`
	GroupID    *int64       `gorm:"column:group_id;index" json:"group_id,omitempty"`
	RoomID     string       `gorm:"size:64;index:messages_room_created_idx" json:"room_id"`
	Body       string       `gorm:"type:text;not null" json:"body"`
	Scope      MessageScope `gorm:"size:16;not null" json:"scope"`
	Kind       MessageKind  `gorm:"size:16;not null;default:chat" json:"kind"`
	CreatedAt  time.Time    `gorm:"index:messages_room_created_idx" json:"created_at"`
}

// TableName возвращает имя таблицы для модели Message
func (Message) TableName() string {
	return "messages"
}
