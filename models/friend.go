package models

import "time"

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipRejected FriendshipStatus = "rejected"
)

// Active - pending и accepted; для пары допускается не больше одного активного ребра
func (s FriendshipStatus) Active() bool {
	return s == FriendshipPending || s == FriendshipAccepted
}

// FriendshipEdge - заявка в друзья и её итог.
// Принятые и отклонённые рёбра не меняются; повторная заявка создаёт новую запись.
type FriendshipEdge struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64            `gorm:"not null;index" json:"requester_id"`
	RecipientID int64            `gorm:"not null;index" json:"recipient_id"`
	PairLow     int64            `gorm:"not null;index:friendship_pair_idx" json:"-"`
	PairHigh    int64            `gorm:"not null;index:friendship_pair_idx" json:"-"`
	Status      FriendshipStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

func (FriendshipEdge) TableName() string {
	return "friendship_edges"
}

// SortedPair упорядочивает пару, чтобы (a,b) и (b,a) давали один ключ
func SortedPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// NewFriendRequest - новое ребро в статусе pending
func NewFriendRequest(requesterID, recipientID int64, now time.Time) *FriendshipEdge {
	low, high := SortedPair(requesterID, recipientID)
	return &FriendshipEdge{
		RequesterID: requesterID,
		RecipientID: recipientID,
		PairLow:     low,
		PairHigh:    high,
		Status:      FriendshipPending,
		CreatedAt:   now,
	}
}

// Other возвращает второго участника ребра
func (e *FriendshipEdge) Other(userID int64) int64 {
	if e.RequesterID == userID {
		return e.RecipientID
	}
	return e.RequesterID
}
