package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"socialchat/config"
	"socialchat/models"

	"go.uber.org/zap"
)

// MessageStore - сохранение сообщений комнат
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
}

// MessageRouter сохраняет сообщение и рассылает его всем подключённым к комнате.
// Сохранение и рассылка идут под seq-локом комнаты, поэтому все участники
// получают сообщения в порядке записи.
type MessageRouter struct {
	rooms        *RoomManager
	store        MessageStore
	log          *zap.Logger
	suppressEcho bool
	maxLength    int
	now          func() time.Time
	onOverflow   func(ctx context.Context, conn *Connection)
}

func NewMessageRouter(rooms *RoomManager, store MessageStore, conf config.ChatConfig, log *zap.Logger) *MessageRouter {
	return &MessageRouter{
		rooms:        rooms,
		store:        store,
		log:          log,
		suppressEcho: conf.SuppressSenderEcho,
		maxLength:    conf.MaxMessageLength,
		now:          time.Now,
	}
}

// SetOverflowHandler задаёт обработчик соединений, чей буфер переполнился при рассылке
func (r *MessageRouter) SetOverflowHandler(fn func(ctx context.Context, conn *Connection)) {
	r.onOverflow = fn
}

func (r *MessageRouter) validate(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	if r.maxLength > 0 && utf8.RuneCountInString(body) > r.maxLength {
		return fmt.Errorf("%w: body longer than %d characters", ErrInvalidMessage, r.maxLength)
	}
	return nil
}

// HandleInbound принимает сообщение от соединения, подключённого к комнате.
// Ошибка сохранения возвращается только отправителю, рассылки не будет.
func (r *MessageRouter) HandleInbound(ctx context.Context, conn *Connection, roomID RoomID, body string) (*models.Message, error) {
	userID := conn.UserID()
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	ref, err := ParseRoomID(roomID)
	if err != nil || !r.rooms.IsAttached(conn, roomID) {
		return nil, fmt.Errorf("%w: not joined to room %q", ErrUnauthorized, roomID)
	}
	if err := r.validate(body); err != nil {
		return nil, err
	}

	msg := r.newMessage(roomID, ref, userID, conn.Username(), body, models.KindChat)
	if err := r.route(ctx, roomID, msg, conn); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRouter) newMessage(roomID RoomID, ref RoomRef, senderID int64, senderName, body string, kind models.MessageKind) *models.Message {
	msg := &models.Message{
		SenderID:   senderID,
		SenderName: senderName,
		RoomID:     string(roomID),
		Body:       body,
		Kind:       kind,
		CreatedAt:  r.now(),
	}
	switch ref.Kind {
	case RoomPrivate:
		msg.Scope = models.ScopePrivate
		receiverID := ref.Peer(senderID)
		msg.ReceiverID = &receiverID
	case RoomGroup:
		msg.Scope = models.ScopeGroup
		groupID := ref.GroupID
		msg.GroupID = &groupID
	}
	return msg
}

// route сохраняет и рассылает сообщение. sender == nil - системное сообщение:
// членство не проверяется, ошибка сохранения только логируется.
func (r *MessageRouter) route(ctx context.Context, roomID RoomID, msg *models.Message, sender *Connection) error {
	overflowed, err := r.persistAndFanOut(ctx, roomID, msg, sender)
	for _, conn := range overflowed {
		if !conn.Close() {
			continue
		}
		chatOverflowDisconnects.Inc()
		r.log.Warn("send buffer overflow, closing connection",
			zap.Uint64("conn_id", conn.ID()),
			zap.Int64("user_id", conn.UserID()),
			zap.String("room_id", string(roomID)))
		if r.onOverflow != nil {
			r.onOverflow(ctx, conn)
		}
	}
	return err
}

func (r *MessageRouter) persistAndFanOut(ctx context.Context, roomID RoomID, msg *models.Message, sender *Connection) ([]*Connection, error) {
	system := sender == nil
	rm := r.rooms.lookup(roomID)
	if rm == nil && !system {
		return nil, fmt.Errorf("%w: not joined to room %q", ErrUnauthorized, roomID)
	}
	if rm != nil {
		rm.seq.Lock()
		defer rm.seq.Unlock()
		if !system && !rm.has(sender) {
			return nil, fmt.Errorf("%w: not joined to room %q", ErrUnauthorized, roomID)
		}
	}

	start := time.Now()
	err := r.store.InsertMessage(ctx, msg)
	chatPersistDuration.WithLabelValues(string(msg.Scope)).Observe(time.Since(start).Seconds())
	if err != nil {
		chatMessagesTotal.WithLabelValues(string(msg.Scope), string(msg.Kind), "persist_failed").Inc()
		if !system {
			r.log.Error("failed to persist message",
				zap.String("room_id", string(roomID)),
				zap.Int64("sender_id", msg.SenderID),
				zap.Error(err))
			return nil, err
		}
		chatPresenceFailures.Inc()
		r.log.Warn("failed to persist presence message",
			zap.String("room_id", string(roomID)),
			zap.Error(err))
	} else {
		chatMessagesTotal.WithLabelValues(string(msg.Scope), string(msg.Kind), "ok").Inc()
	}

	if rm == nil {
		return nil, nil
	}

	frame, err := messageFrame(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	var overflowed []*Connection
	for _, conn := range rm.snapshot() {
		if r.suppressEcho && conn == sender {
			continue
		}
		if !conn.Enqueue(frame) && !conn.Closed() {
			overflowed = append(overflowed, conn)
		}
	}
	return overflowed, nil
}
