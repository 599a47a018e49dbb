package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/game"
)

func TestRouterForwardsCommands(t *testing.T) {
	session := &fakeSession{}
	_, srv := testServer(t, session)
	conn, id := connect(t, srv)

	send(t, conn, MessageTypeJoinGame, JoinRequest{Username: "Alice"})
	send(t, conn, MessageTypePlayerReady, nil)
	send(t, conn, MessageTypeShotFired, nil)
	send(t, conn, MessageTypeRequestRestart, nil)

	origin := game.Vec3{X: 0, Y: 2, Z: 0}
	send(t, conn, MessageTypeProjectileHit, game.HitReport{TargetID: "t1", Points: 15, Origin: &origin})

	for _, call := range []string{
		"join:" + id + ":Alice",
		"ready:" + id,
		"shot:" + id,
		"restart:" + id,
		"hit:" + id,
	} {
		call := call
		assert.Eventually(t, func() bool { return session.has(call) }, time.Second, 10*time.Millisecond, call)
	}

	session.mu.Lock()
	require.Len(t, session.hits, 1)
	hit := session.hits[0]
	session.mu.Unlock()
	assert.Equal(t, "t1", hit.TargetID)
	assert.Equal(t, 15, hit.Points)
	require.NotNil(t, hit.Origin)
	assert.Equal(t, origin, *hit.Origin)
	assert.Nil(t, hit.Direction)
}

func TestRouterJoinAcceptsBareString(t *testing.T) {
	session := &fakeSession{}
	_, srv := testServer(t, session)
	conn, id := connect(t, srv)

	send(t, conn, MessageTypeJoinGame, "Bob")
	assert.Eventually(t, func() bool { return session.has("join:" + id + ":Bob") }, time.Second, 10*time.Millisecond)

	// 缺少消息体时交给会话校验
	send(t, conn, MessageTypeJoinGame, nil)
	assert.Eventually(t, func() bool { return session.has("join:" + id + ":") }, time.Second, 10*time.Millisecond)
}

func TestRouterRejectsMalformedMessages(t *testing.T) {
	session := &fakeSession{}
	_, srv := testServer(t, session)
	conn, _ := connect(t, srv)

	expectError := func(code errors.ErrorCode) {
		t.Helper()
		msg := readMessage(t, conn)
		require.Equal(t, MessageTypeError, msg.Type)
		var payload game.ErrorPayload
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, errors.Message(errors.New(code)), payload.Error)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	expectError(errors.ErrMessageFormat)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	expectError(errors.ErrMessageFormat)

	send(t, conn, "fly", nil)
	expectError(errors.ErrUnknownMessage)

	send(t, conn, MessageTypeProjectileHit, map[string]interface{}{"targetId": "t1", "points": "many"})
	expectError(errors.ErrMessageFormat)

	send(t, conn, MessageTypeJoinGame, 42)
	expectError(errors.ErrMessageFormat)

	// 连接仍然可用
	send(t, conn, MessageTypePing, nil)
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)

	session.mu.Lock()
	assert.Empty(t, session.hits)
	session.mu.Unlock()
}
