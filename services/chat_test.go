package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"socialchat/config"
	"socialchat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFrame(t *testing.T, frame any) []byte {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	return data
}

func TestOpenUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	transport := &fakeTransport{}

	_, err := env.chat.Open(context.Background(), transport, 404)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, env.registry.Count())
}

func TestOpenSendsConnectedFrame(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	conn, err := env.chat.Open(context.Background(), &fakeTransport{}, alice.ID)
	require.NoError(t, err)
	frames := drainFrames(conn)
	require.Len(t, frames, 1)
	assert.Equal(t, EventConnected, frames[0].Event)
	assert.Equal(t, alice.ID, frames[0].UserID)
	assert.True(t, env.registry.IsOnline(alice.ID))
}

func TestHandleRawFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	env.makeFriends(t, alice, bob)
	aliceConn := env.open(t, alice)
	bobConn := env.open(t, bob)

	env.chat.HandleRaw(ctx, aliceConn, []byte(fmt.Sprintf(`{"event":"join","room":{"kind":"private","user_id":%d}}`, bob.ID)))
	env.chat.HandleRaw(ctx, bobConn, []byte(fmt.Sprintf(`{"event":"join","room":{"kind":"private","user_id":%d}}`, alice.ID)))

	room := PrivateRoomID(alice.ID, bob.ID)
	joined := onlyEvent(drainFrames(bobConn), EventJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, room, joined[0].RoomID)
	drainFrames(aliceConn)

	env.chat.HandleRaw(ctx, aliceConn, rawFrame(t, InboundFrame{Event: EventSend, RoomID: room, Body: "hi"}))
	messages := chatMessages(drainFrames(bobConn))
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Body)
	assert.Equal(t, "alice", messages[0].Sender)
	assert.Len(t, chatMessages(drainFrames(aliceConn)), 1)

	env.chat.HandleRaw(ctx, aliceConn, rawFrame(t, InboundFrame{Event: EventLeave, RoomID: room}))
	left := onlyEvent(drainFrames(aliceConn), EventLeft)
	require.Len(t, left, 1)
	assert.Equal(t, room, left[0].RoomID)

	// повторный leave - no-op без ответа
	env.chat.HandleRaw(ctx, aliceConn, rawFrame(t, InboundFrame{Event: EventLeave, RoomID: room}))
	assert.Empty(t, drainFrames(aliceConn))

	env.chat.HandleRaw(ctx, aliceConn, rawFrame(t, InboundFrame{Event: EventSend, RoomID: room, Body: "still here?"}))
	errs := onlyEvent(drainFrames(aliceConn), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "unauthorized", errs[0].Error)
	assert.Empty(t, chatMessages(drainFrames(bobConn)))
}

func TestHandleRawErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	aliceConn := env.open(t, alice)

	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"malformed", `{"event":`, "invalid_message"},
		{"unknown event", `{"event":"dance"}`, "invalid_message"},
		{"not friends", fmt.Sprintf(`{"event":"join","room":{"kind":"private","user_id":%d}}`, bob.ID), "unauthorized"},
		{"unknown kind", `{"event":"join","room":{"kind":"lobby"}}`, "not_found"},
		{"empty body in unjoined room", `{"event":"send","room_id":"group:1","body":""}`, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.chat.HandleRaw(ctx, aliceConn, []byte(tc.raw))
			frames := drainFrames(aliceConn)
			require.Len(t, frames, 1)
			assert.Equal(t, EventError, frames[0].Event)
			assert.Equal(t, tc.code, frames[0].Error)
		})
	}
}

func TestHandleRawRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.ChatConfig) {
		c.RatePerSecond = 0.001
		c.RateBurst = 2
	})
	alice := env.createUser(t, "alice")
	group := env.createGroup(t, alice)
	conn := env.open(t, alice)
	room := env.join(t, conn, GroupRoom(group.ID))
	drainFrames(conn)

	send := rawFrame(t, InboundFrame{Event: EventSend, RoomID: room, Body: "spam"})
	for i := 0; i < 3; i++ {
		env.chat.HandleRaw(context.Background(), conn, send)
	}

	frames := drainFrames(conn)
	assert.Len(t, chatMessages(frames), 2)
	errs := onlyEvent(frames, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "rate_limited", errs[0].Error)
}

func TestPrivateHistory(t *testing.T) {
	env := newTestEnv(t, func(c *config.ChatConfig) { c.HistoryLimit = 3 })
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")
	env.makeFriends(t, alice, bob)
	conn := env.open(t, alice)
	room := env.join(t, conn, PrivateRoom(bob.ID))

	base := time.Now()
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		env.chat.Router.now = func() time.Time { return at }
		_, err := env.chat.Router.HandleInbound(ctx, conn, room, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	history, err := env.chat.PrivateHistory(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m2", history[0].Body)
	assert.Equal(t, "m4", history[2].Body)
	for _, m := range history {
		assert.Equal(t, models.KindChat, m.Kind)
	}

	_, err = env.chat.PrivateHistory(ctx, carol.ID, alice.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGroupHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	outsider := env.createUser(t, "outsider")
	group := env.createGroup(t, alice)
	conn := env.open(t, alice)
	room := env.join(t, conn, GroupRoom(group.ID))

	_, err := env.chat.Router.HandleInbound(ctx, conn, room, "hello")
	require.NoError(t, err)

	history, err := env.chat.GroupHistory(ctx, alice.ID, group.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Body)

	_, err = env.chat.GroupHistory(ctx, outsider.ID, group.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
