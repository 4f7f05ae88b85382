package services

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Transport - сторона соединения, отвечающая за запись в сеть.
// WriteFrame и Ping вызываются только из WritePump.
type Transport interface {
	WriteFrame(data []byte) error
	Ping() error
	Close() error
}

var connectionSeq atomic.Uint64

// Connection - живая сессия клиента: буфер отправки, комнаты и лимитер входящих событий
type Connection struct {
	id        uint64
	transport Transport
	limiter   *rate.Limiter

	userID   atomic.Int64
	username atomic.Value

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// mu защищает closed и rooms; берётся после мьютекса комнаты
	mu     sync.Mutex
	closed bool
	rooms  map[RoomID]struct{}
}

func NewConnection(transport Transport, sendBuffer int, limiter *rate.Limiter) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	c := &Connection{
		id:        connectionSeq.Add(1),
		transport: transport,
		limiter:   limiter,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[RoomID]struct{}),
	}
	c.username.Store("")
	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

// UserID - 0 пока соединение не привязано к пользователю
func (c *Connection) UserID() int64 {
	return c.userID.Load()
}

func (c *Connection) Username() string {
	return c.username.Load().(string)
}

// Done закрывается при закрытии соединения
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Allow - лимит входящих событий
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// Enqueue кладёт фрейм в буфер без блокировки.
// false - соединение закрыто или буфер переполнен.
func (c *Connection) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close закрывает соединение; повторные вызовы ничего не делают.
// true - соединение закрыто именно этим вызовом.
func (c *Connection) Close() bool {
	closedNow := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()
		if c.transport != nil {
			_ = c.transport.Close()
		}
		closedNow = true
	})
	return closedNow
}

// JoinedRooms - комнаты, к которым соединение подключено сейчас
func (c *Connection) JoinedRooms() []RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]RoomID, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	slices.Sort(rooms)
	return rooms
}

func (c *Connection) bind(userID int64, username string) {
	c.username.Store(username)
	c.userID.Store(userID)
}

// addRoom вызывается под мьютексом комнаты
func (c *Connection) addRoom(id RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	c.rooms[id] = struct{}{}
	return nil
}

func (c *Connection) removeRoom(id RoomID) {
	c.mu.Lock()
	delete(c.rooms, id)
	c.mu.Unlock()
}

// WritePump - единственный писатель в транспорт: фреймы из буфера и пинги
func (c *Connection) WritePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.transport.WriteFrame(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
