package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// RoomID - логический идентификатор комнаты: private:<low>|<high> или group:<id>.
// Вычисляется заново при каждом join, поэтому пустую комнату можно просто забыть.
type RoomID string

func PrivateRoomID(a, b int64) RoomID {
	if a > b {
		a, b = b, a
	}
	return RoomID(fmt.Sprintf("%s:%d|%d", RoomPrivate, a, b))
}

func GroupRoomID(groupID int64) RoomID {
	return RoomID(fmt.Sprintf("%s:%d", RoomGroup, groupID))
}

// RoomSpec - запрос на вход: PrivateRoom(собеседник) или GroupRoom(группа)
type RoomSpec struct {
	Kind        RoomKind `json:"kind"`
	OtherUserID int64    `json:"user_id,omitempty"`
	GroupID     int64    `json:"group_id,omitempty"`
}

func PrivateRoom(otherUserID int64) RoomSpec {
	return RoomSpec{Kind: RoomPrivate, OtherUserID: otherUserID}
}

func GroupRoom(groupID int64) RoomSpec {
	return RoomSpec{Kind: RoomGroup, GroupID: groupID}
}

// RoomRef - разобранный RoomID
type RoomRef struct {
	Kind    RoomKind
	Low     int64
	High    int64
	GroupID int64
}

// Peer - второй участник приватной комнаты
func (r RoomRef) Peer(userID int64) int64 {
	if r.Low == userID {
		return r.High
	}
	return r.Low
}

func ParseRoomID(id RoomID) (RoomRef, error) {
	kind, rest, ok := strings.Cut(string(id), ":")
	if !ok {
		return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, id)
	}
	switch RoomKind(kind) {
	case RoomPrivate:
		lowStr, highStr, ok := strings.Cut(rest, "|")
		if !ok {
			return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, id)
		}
		low, errLow := strconv.ParseInt(lowStr, 10, 64)
		high, errHigh := strconv.ParseInt(highStr, 10, 64)
		if errLow != nil || errHigh != nil || low <= 0 || low >= high {
			return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, id)
		}
		return RoomRef{Kind: RoomPrivate, Low: low, High: high}, nil
	case RoomGroup:
		groupID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || groupID <= 0 {
			return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, id)
		}
		return RoomRef{Kind: RoomGroup, GroupID: groupID}, nil
	default:
		return RoomRef{}, fmt.Errorf("%w: room %q", ErrNotFound, id)
	}
}

// FriendChecker - проверка принятой дружбы для приватных комнат
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b int64) (bool, error)
}

// GroupMembership - внешний источник состава групп
type GroupMembership interface {
	QueryGroupMembers(ctx context.Context, groupID int64) (map[int64]struct{}, error)
}

type room struct {
	id  RoomID
	ref RoomRef

	// seq упорядочивает сохранение и рассылку сообщений комнаты
	seq sync.Mutex

	mu      sync.RWMutex
	members map[uint64]*Connection
	dead    bool
}

func (r *room) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]*Connection, 0, len(r.members))
	for _, conn := range r.members {
		members = append(members, conn)
	}
	return members
}

func (r *room) has(conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[conn.ID()]
	return ok
}

// RoomManager хранит в памяти комнаты с подключёнными соединениями.
// Порядок блокировок: room.mu, затем Connection.mu. Индекс под отдельным mu.
type RoomManager struct {
	friends  FriendChecker
	groups   GroupMembership
	presence *PresenceNotifier
	log      *zap.Logger

	mu    sync.Mutex
	rooms map[RoomID]*room
}

func NewRoomManager(friends FriendChecker, groups GroupMembership, log *zap.Logger) *RoomManager {
	return &RoomManager{
		friends: friends,
		groups:  groups,
		log:     log,
		rooms:   make(map[RoomID]*room),
	}
}

// SetPresence подключает уведомления о входе и выходе
func (m *RoomManager) SetPresence(presence *PresenceNotifier) {
	m.presence = presence
}

// Join проверяет право входа и подключает соединение к комнате.
// Повторный вход тем же соединением - успешный no-op без уведомления.
func (m *RoomManager) Join(ctx context.Context, conn *Connection, spec RoomSpec) (RoomID, error) {
	userID := conn.UserID()
	if userID == 0 {
		return "", ErrUnauthorized
	}

	id, ref, err := m.authorize(ctx, userID, spec)
	if err != nil {
		chatRoomJoinsTotal.WithLabelValues(string(spec.Kind), ErrorCode(err)).Inc()
		return "", err
	}

	added, err := m.attach(id, ref, conn)
	if err != nil {
		chatRoomJoinsTotal.WithLabelValues(string(spec.Kind), ErrorCode(err)).Inc()
		return "", err
	}
	if !added {
		return id, nil
	}
	chatRoomJoinsTotal.WithLabelValues(string(spec.Kind), "ok").Inc()
	m.log.Debug("connection joined room",
		zap.String("room_id", string(id)),
		zap.Int64("user_id", userID),
		zap.Uint64("conn_id", conn.ID()))

	if m.presence != nil {
		m.presence.AnnounceJoin(ctx, id, userID, conn.Username())
	}
	return id, nil
}

func (m *RoomManager) authorize(ctx context.Context, userID int64, spec RoomSpec) (RoomID, RoomRef, error) {
	switch spec.Kind {
	case RoomPrivate:
		other := spec.OtherUserID
		if other <= 0 || other == userID {
			return "", RoomRef{}, ErrUnauthorized
		}
		ok, err := m.friends.AreFriends(ctx, userID, other)
		if err != nil {
			return "", RoomRef{}, err
		}
		if !ok {
			return "", RoomRef{}, fmt.Errorf("%w: users %d and %d are not friends", ErrUnauthorized, userID, other)
		}
		low, high := userID, other
		if low > high {
			low, high = high, low
		}
		return PrivateRoomID(userID, other), RoomRef{Kind: RoomPrivate, Low: low, High: high}, nil
	case RoomGroup:
		if spec.GroupID <= 0 {
			return "", RoomRef{}, fmt.Errorf("%w: group %d", ErrNotFound, spec.GroupID)
		}
		members, err := m.groups.QueryGroupMembers(ctx, spec.GroupID)
		if err != nil {
			return "", RoomRef{}, err
		}
		if _, ok := members[userID]; !ok {
			return "", RoomRef{}, fmt.Errorf("%w: user %d is not a member of group %d", ErrUnauthorized, userID, spec.GroupID)
		}
		return GroupRoomID(spec.GroupID), RoomRef{Kind: RoomGroup, GroupID: spec.GroupID}, nil
	default:
		return "", RoomRef{}, fmt.Errorf("%w: room kind %q", ErrNotFound, spec.Kind)
	}
}

// attach возвращает false, если соединение уже было в комнате
func (m *RoomManager) attach(id RoomID, ref RoomRef, conn *Connection) (bool, error) {
	for {
		m.mu.Lock()
		r, ok := m.rooms[id]
		if !ok {
			r = &room{id: id, ref: ref, members: make(map[uint64]*Connection)}
			m.rooms[id] = r
			chatActiveRooms.Inc()
		}
		m.mu.Unlock()

		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			m.forget(r)
			continue
		}
		if _, ok := r.members[conn.ID()]; ok {
			r.mu.Unlock()
			return false, nil
		}
		if err := conn.addRoom(id); err != nil {
			empty := m.markDeadIfEmpty(r)
			r.mu.Unlock()
			if empty {
				m.forget(r)
			}
			return false, err
		}
		r.members[conn.ID()] = conn
		r.mu.Unlock()
		return true, nil
	}
}

// markDeadIfEmpty вызывается под r.mu
func (m *RoomManager) markDeadIfEmpty(r *room) bool {
	if len(r.members) == 0 && !r.dead {
		r.dead = true
		return true
	}
	return r.dead
}

// forget убирает мёртвую комнату из индекса, если там ещё она
func (m *RoomManager) forget(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[r.id]; ok && current == r {
		delete(m.rooms, r.id)
		chatActiveRooms.Dec()
	}
}

func (m *RoomManager) lookup(id RoomID) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

func (m *RoomManager) detach(conn *Connection, id RoomID) bool {
	r := m.lookup(id)
	if r == nil {
		return false
	}
	r.mu.Lock()
	if _, ok := r.members[conn.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, conn.ID())
	conn.removeRoom(id)
	empty := m.markDeadIfEmpty(r)
	r.mu.Unlock()

	if empty {
		m.forget(r)
	}
	return true
}

// Leave отключает соединение от комнаты; если его там не было - no-op
func (m *RoomManager) Leave(ctx context.Context, conn *Connection, id RoomID) bool {
	if !m.detach(conn, id) {
		return false
	}
	if m.presence != nil {
		m.presence.AnnounceLeave(ctx, id, conn.UserID(), conn.Username())
	}
	return true
}

// DetachAll отключает соединение от всех комнат без уведомлений, возвращает покинутые комнаты
func (m *RoomManager) DetachAll(conn *Connection) []RoomID {
	var left []RoomID
	for _, id := range conn.JoinedRooms() {
		if m.detach(conn, id) {
			left = append(left, id)
		}
	}
	return left
}

// MembersOf - соединения, подключённые к комнате сейчас
func (m *RoomManager) MembersOf(id RoomID) []*Connection {
	r := m.lookup(id)
	if r == nil {
		return nil
	}
	return r.snapshot()
}

func (m *RoomManager) IsAttached(conn *Connection, id RoomID) bool {
	r := m.lookup(id)
	if r == nil {
		return false
	}
	return r.has(conn)
}

// RoomCount - число живых комнат в индексе
func (m *RoomManager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
