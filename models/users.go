package models

import (
	"time"
)

// User - пользователь; ядро только читает эту таблицу
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Nickname  string    `gorm:"size:60;uniqueIndex" json:"nickname"`
	FirstName string    `gorm:"size:255" json:"first_name"`
	LastName  string    `gorm:"size:255" json:"last_name"`
	City      string    `gorm:"size:255" json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserTokens хранит дайджест выданного снаружи bearer-токена, не сам токен
type UserTokens struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64  `gorm:"index" json:"user_id"`
	Token  string `gorm:"size:64;uniqueIndex" json:"-"`
}

func (UserTokens) TableName() string {
	return "user_tokens"
}

// Group - групповой чат. Состав группы ведёт внешний сервис
type Group struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	OwnerID   int64     `gorm:"index" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Group) TableName() string {
	return "groups"
}

type GroupMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID  int64     `gorm:"uniqueIndex:group_member_idx" json:"group_id"`
	UserID   int64     `gorm:"uniqueIndex:group_member_idx;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

type Migration struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:60;uniqueIndex" json:"name"`
	AppliedAt time.Time `gorm:"autoCreateTime" json:"applied_at"`
}
