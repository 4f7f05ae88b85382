package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"socialchat/config"
	"socialchat/db"
	"socialchat/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	orm       *gorm.DB
	store     *GormGateway
	directory *GormDirectory
	registry  *Registry
	friends   *FriendService
	chat      *ChatService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	orm, err := db.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(orm))
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return orm
}

func newTestEnv(t *testing.T, tune ...func(*config.ChatConfig)) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	orm := newTestDB(t)

	conf := config.DefaultChatConfig()
	for _, fn := range tune {
		fn(&conf)
	}

	env := &testEnv{
		orm:       orm,
		store:     NewGormGateway(orm),
		directory: NewGormDirectory(orm),
		registry:  NewRegistry(),
	}
	env.friends = NewFriendService(env.store, env.directory, env.registry, log).
		WithEvents(NewLocalPublisher(env.registry))
	env.chat = NewChatService(env.store, env.directory, env.friends, env.registry, conf, log)
	return env
}

var userSeq atomic.Int64

func (e *testEnv) createUser(t *testing.T, nickname string) models.User {
	t.Helper()
	if nickname == "" {
		nickname = fmt.Sprintf("%s_%d", gofakeit.Username(), userSeq.Add(1))
	}
	user := models.User{
		Nickname:  nickname,
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		City:      gofakeit.City(),
	}
	require.NoError(t, e.orm.Create(&user).Error)
	return user
}

// issueToken записывает токен так, как его выдал бы сервис авторизации
func issueToken(t *testing.T, orm *gorm.DB, userID int64) string {
	t.Helper()
	token := gofakeit.UUID()
	require.NoError(t, orm.Create(&models.UserTokens{UserID: userID, Token: tokenDigest(token)}).Error)
	return token
}

func (e *testEnv) createGroup(t *testing.T, members ...models.User) models.Group {
	t.Helper()
	group := models.Group{Name: gofakeit.Company()}
	if len(members) > 0 {
		group.OwnerID = members[0].ID
	}
	require.NoError(t, e.orm.Create(&group).Error)
	for _, m := range members {
		require.NoError(t, e.orm.Create(&models.GroupMember{GroupID: group.ID, UserID: m.ID}).Error)
	}
	return group
}

func (e *testEnv) makeFriends(t *testing.T, a, b models.User) {
	t.Helper()
	ctx := context.Background()
	edgeID, err := e.friends.RequestFriend(ctx, a.ID, b.Nickname)
	require.NoError(t, err)
	require.NoError(t, e.friends.RespondToRequest(ctx, edgeID, b.ID, DecisionAccept))
}

// open открывает соединение пользователя и выбрасывает приветственный фрейм
func (e *testEnv) open(t *testing.T, user models.User) *Connection {
	t.Helper()
	conn, err := e.chat.Open(context.Background(), &fakeTransport{}, user.ID)
	require.NoError(t, err)
	drainFrames(conn)
	return conn
}

func (e *testEnv) join(t *testing.T, conn *Connection, spec RoomSpec) RoomID {
	t.Helper()
	id, err := e.chat.Rooms.Join(context.Background(), conn, spec)
	require.NoError(t, err)
	return id
}

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	pings  int
	closed bool
	err    error
}

func (f *fakeTransport) WriteFrame(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

// testFrame - объединение полей всех серверных фреймов
type testFrame struct {
	Event     string `json:"event"`
	RoomID    RoomID `json:"room_id"`
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	PeerID    int64  `json:"peer_id"`
	PeerName  string `json:"peer_name"`
	UserID    int64  `json:"user_id"`
}

func drainFrames(conn *Connection) []testFrame {
	var frames []testFrame
	for {
		select {
		case data := <-conn.send:
			var f testFrame
			if err := json.Unmarshal(data, &f); err == nil {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

func onlyEvent(frames []testFrame, event string) []testFrame {
	var out []testFrame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func chatMessages(frames []testFrame) []testFrame {
	var out []testFrame
	for _, f := range onlyEvent(frames, EventMessage) {
		if f.Kind == string(models.KindChat) {
			out = append(out, f)
		}
	}
	return out
}
