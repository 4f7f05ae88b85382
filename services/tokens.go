package services

import (
	"context"
	"encoding/hex"
	"errors"

	"socialchat/db"
	"socialchat/models"

	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

// TokenStore проверяет bearer-токены. Токены выдаёт внешний сервис,
// в базе лежит только их blake2b-дайджест.
type TokenStore struct {
	orm *gorm.DB
}

func NewTokenStore(orm *gorm.DB) *TokenStore {
	return &TokenStore{orm: orm}
}

func tokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve возвращает id владельца токена
func (s *TokenStore) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthorized
	}
	var record models.UserTokens
	err := db.GetReadOnlyDB(ctx, s.orm).Where("token = ?", tokenDigest(token)).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnauthorized
		}
		return 0, persistenceError("resolve token", err)
	}
	return record.UserID, nil
}
