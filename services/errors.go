package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrDuplicateRequest = errors.New("duplicate friend request")
	ErrSelfReference    = errors.New("cannot add yourself as friend")
	ErrPersistence      = errors.New("persistence error")
	ErrAlreadyBound     = errors.New("connection already bound")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// persistenceError оборачивает ошибку хранилища, сохраняя исходную причину для errors.Is
func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// ErrorCode - короткий код ошибки для клиента (websocket-фреймы, JSON-ответы, метки метрик)
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, ErrSelfReference):
		return "self_reference"
	case errors.Is(err, ErrAlreadyBound):
		return "already_bound"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrInvalidDecision):
		return "invalid_decision"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
