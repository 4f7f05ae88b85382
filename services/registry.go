package services

import (
	"iter"
	"sync"
)

// Registry связывает живые соединения с пользователями.
// У пользователя может быть несколько соединений одновременно.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
	users map[int64]map[uint64]*Connection

	onOverflow func(*Connection)
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uint64]*Connection),
		users: make(map[int64]map[uint64]*Connection),
	}
}

// SetOverflowHandler задаёт обработчик соединений, не принявших фрейм в SendToUser
func (r *Registry) SetOverflowHandler(fn func(*Connection)) {
	r.mu.Lock()
	r.onOverflow = fn
	r.mu.Unlock()
}

// Bind привязывает соединение к пользователю
func (r *Registry) Bind(conn *Connection, userID int64, username string) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok || conn.UserID() != 0 {
		return ErrAlreadyBound
	}
	if conn.Closed() {
		return ErrConnectionClosed
	}
	conn.bind(userID, username)
	r.conns[conn.ID()] = conn
	userConns, ok := r.users[userID]
	if !ok {
		userConns = make(map[uint64]*Connection)
		r.users[userID] = userConns
	}
	userConns[conn.ID()] = conn
	chatActiveConnections.Inc()
	return nil
}

// Unbind отвязывает соединение; повторный вызов ничего не делает
func (r *Registry) Unbind(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; !ok {
		return false
	}
	delete(r.conns, conn.ID())
	userID := conn.UserID()
	if userConns, ok := r.users[userID]; ok {
		delete(userConns, conn.ID())
		if len(userConns) == 0 {
			delete(r.users, userID)
		}
	}
	chatActiveConnections.Dec()
	return true
}

// ConnectionsFor возвращает соединения пользователя.
// Снимок берётся в начале обхода, поэтому в цикле можно вызывать Bind/Unbind.
func (r *Registry) ConnectionsFor(userID int64) iter.Seq[*Connection] {
	return func(yield func(*Connection) bool) {
		r.mu.RLock()
		snapshot := make([]*Connection, 0, len(r.users[userID]))
		for _, conn := range r.users[userID] {
			snapshot = append(snapshot, conn)
		}
		r.mu.RUnlock()

		for _, conn := range snapshot {
			if !yield(conn) {
				return
			}
		}
	}
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers оставляет из ids только пользователей с живыми соединениями
func (r *Registry) OnlineUsers(ids []int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	online := make([]int64, 0, len(ids))
	for _, id := range ids {
		if len(r.users[id]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SendToUser кладёт фрейм во все соединения пользователя, возвращает число доставленных.
// Переполненные соединения закрываются.
func (r *Registry) SendToUser(userID int64, frame []byte) int {
	r.mu.RLock()
	onOverflow := r.onOverflow
	r.mu.RUnlock()

	delivered := 0
	for conn := range r.ConnectionsFor(userID) {
		if conn.Enqueue(frame) {
			delivered++
			continue
		}
		if conn.Close() {
			chatOverflowDisconnects.Inc()
			if onOverflow != nil {
				onOverflow(conn)
			}
		}
	}
	return delivered
}
