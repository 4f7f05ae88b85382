package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"socialchat/config"
	"socialchat/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatStore - то, что чату нужно от хранилища
type ChatStore interface {
	MessageStore
	GroupMembership
	QueryPrivateHistory(ctx context.Context, a, b int64, limit int) ([]models.Message, error)
	QueryGroupHistory(ctx context.Context, groupID int64, limit int) ([]models.Message, error)
}

// ChatService связывает жизненный цикл соединения с реестром, комнатами и роутером
type ChatService struct {
	Registry *Registry
	Rooms    *RoomManager
	Router   *MessageRouter
	Presence *PresenceNotifier

	store     ChatStore
	directory Directory
	friends   FriendChecker
	conf      config.ChatConfig
	log       *zap.Logger
}

func NewChatService(store ChatStore, directory Directory, friends FriendChecker, registry *Registry, conf config.ChatConfig, log *zap.Logger) *ChatService {
	rooms := NewRoomManager(friends, store, log)
	router := NewMessageRouter(rooms, store, conf, log)
	presence := NewPresenceNotifier(router, log)
	rooms.SetPresence(presence)

	cs := &ChatService{
		Registry:  registry,
		Rooms:     rooms,
		Router:    router,
		Presence:  presence,
		store:     store,
		directory: directory,
		friends:   friends,
		conf:      conf,
		log:       log,
	}
	router.SetOverflowHandler(cs.Disconnect)
	registry.SetOverflowHandler(func(conn *Connection) {
		cs.Disconnect(context.Background(), conn)
	})
	return cs
}

// Open создаёт соединение для аутентифицированного пользователя и регистрирует его
func (cs *ChatService) Open(ctx context.Context, transport Transport, userID int64) (*Connection, error) {
	user, err := cs.directory.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user %d", ErrUnauthorized, userID)
		}
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cs.conf.RatePerSecond), cs.conf.RateBurst)
	conn := NewConnection(transport, cs.conf.SendBuffer, limiter)
	if err := cs.Registry.Bind(conn, user.ID, user.Nickname); err != nil {
		conn.Close()
		return nil, err
	}
	cs.reply(ctx, conn, connectedFrame(user.ID, user.Nickname))

	cs.log.Info("connection opened",
		zap.Uint64("conn_id", conn.ID()),
		zap.Int64("user_id", user.ID))
	return conn, nil
}

// Disconnect закрывает соединение, отключает его от всех комнат и сообщает об уходе.
// Можно вызывать повторно и из любой горутины.
func (cs *ChatService) Disconnect(ctx context.Context, conn *Connection) {
	conn.Close()
	left := cs.Rooms.DetachAll(conn)
	unbound := cs.Registry.Unbind(conn)
	for _, id := range left {
		cs.Presence.AnnounceLeave(ctx, id, conn.UserID(), conn.Username())
	}
	if unbound {
		cs.log.Info("connection closed",
			zap.Uint64("conn_id", conn.ID()),
			zap.Int64("user_id", conn.UserID()),
			zap.Int("rooms_left", len(left)),
			zap.Bool("still_online", cs.Registry.IsOnline(conn.UserID())))
	}
}

// HandleRaw разбирает фрейм клиента и выполняет событие.
// Ошибки уходят только этому соединению.
func (cs *ChatService) HandleRaw(ctx context.Context, conn *Connection, data []byte) {
	if !conn.Allow() {
		cs.reply(ctx, conn, errorFrame(ErrRateLimited))
		return
	}
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		cs.reply(ctx, conn, errorFrame(fmt.Errorf("%w: malformed frame", ErrInvalidMessage)))
		return
	}
	cs.Dispatch(ctx, conn, frame)
}

func (cs *ChatService) Dispatch(ctx context.Context, conn *Connection, frame InboundFrame) {
	switch frame.Event {
	case EventJoin:
		id, err := cs.Rooms.Join(ctx, conn, frame.Room)
		if err != nil {
			cs.reply(ctx, conn, errorFrame(err))
			return
		}
		cs.reply(ctx, conn, roomFrame(EventJoined, id))
	case EventLeave:
		// leave из комнаты, где соединения нет, ничего не делает и не отвечает
		if cs.Rooms.Leave(ctx, conn, frame.RoomID) {
			cs.reply(ctx, conn, roomFrame(EventLeft, frame.RoomID))
		}
	case EventSend:
		if _, err := cs.Router.HandleInbound(ctx, conn, frame.RoomID, frame.Body); err != nil {
			cs.reply(ctx, conn, errorFrame(err))
		}
	default:
		cs.reply(ctx, conn, errorFrame(fmt.Errorf("%w: unknown event %q", ErrInvalidMessage, frame.Event)))
	}
}

// reply - ответ одному соединению; переполненный буфер закрывает соединение
func (cs *ChatService) reply(ctx context.Context, conn *Connection, frame []byte) {
	if conn.Enqueue(frame) {
		return
	}
	if conn.Close() {
		chatOverflowDisconnects.Inc()
		cs.Disconnect(ctx, conn)
	}
}

// PrivateHistory - последние сообщения переписки двух друзей
func (cs *ChatService) PrivateHistory(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	ok, err := cs.friends.AreFriends(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: users %d and %d are not friends", ErrUnauthorized, userID, otherID)
	}
	return cs.store.QueryPrivateHistory(ctx, userID, otherID, cs.conf.HistoryLimit)
}

// GroupHistory - последние сообщения группы, только для её участников
func (cs *ChatService) GroupHistory(ctx context.Context, userID, groupID int64) ([]models.Message, error) {
	members, err := cs.store.QueryGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := members[userID]; !ok {
		return nil, fmt.Errorf("%w: user %d is not a member of group %d", ErrUnauthorized, userID, groupID)
	}
	return cs.store.QueryGroupHistory(ctx, groupID, cs.conf.HistoryLimit)
}
