package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/hub"
	"github.com/courtsim/courtroom-backend/internal/protocol"
	"github.com/courtsim/courtroom-backend/internal/room"
	"github.com/courtsim/courtroom-backend/internal/seat"
)

func newTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.New(ctx, seat.NewAllocator(seat.DefaultLayout()), zap.NewNop())
	ts := httptest.NewServer(Handler(h, nil, zap.NewNop()))
	t.Cleanup(ts.Close)
	return h, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readMsg(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg protocol.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func getRoom(t *testing.T, h *hub.Hub, roomID string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- hub.GetRoom{RoomID: roomID, Reply: reply}
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room lookup")
		return nil // unreachable
	}
}

func TestHandler_JoinAndChatRoundtrip(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeRoomJoin,
		TrialID: "trial-1",
		Role:    "Judge",
		Name:    "Alice",
	})
	ack := readMsg(t, conn)
	require.Equal(t, protocol.TypeRoomJoined, ack.Type)
	require.NotNil(t, ack.OK)
	assert.True(t, *ack.OK)
	require.NotNil(t, ack.Self)
	assert.Equal(t, protocol.RoleJudge, ack.Self.Role)
	assert.NotNil(t, ack.Participants)

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeChatMsg,
		Payload: &protocol.ChatPayload{Text: "order in the court"},
	})
	echo := readMsg(t, conn)
	require.Equal(t, protocol.TypeChatMsg, echo.Type)
	require.NotNil(t, echo.Msg)
	assert.Equal(t, "order in the court", echo.Msg.Text)
	assert.Equal(t, "Alice", echo.Msg.From)
}

func TestHandler_RoomSwitchOnSameConnection(t *testing.T) {
	h, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeRoomJoin,
		TrialID: "trial-1",
		Role:    "Accused",
		Name:    "Alice",
	})
	first := readMsg(t, conn)
	require.Equal(t, protocol.TypeRoomJoined, first.Type)

	// Joining another trial on the same socket leaves the first room
	// and keeps the connection fully serviceable.
	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeRoomJoin,
		TrialID: "trial-2",
		Role:    "Accused",
		Name:    "Alice",
	})
	second := readMsg(t, conn)
	require.Equal(t, protocol.TypeRoomJoined, second.Type)
	assert.Equal(t, first.Self.ID, second.Self.ID, "connection identity is stable")

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeChatMsg,
		Payload: &protocol.ChatPayload{Text: "moved courts"},
	})
	echo := readMsg(t, conn)
	require.Equal(t, protocol.TypeChatMsg, echo.Type)
	require.NotNil(t, echo.Msg)
	assert.Equal(t, "moved courts", echo.Msg.Text)

	// The vacated room was retired: the handler's leave reached the
	// hub before the join whose ack we already received.
	assert.Nil(t, getRoom(t, h, "trial-1"))
	assert.NotNil(t, getRoom(t, h, "trial-2"))
}

func TestHandler_IdleConnectionKeptAlive(t *testing.T) {
	old := pingInterval
	pingInterval = 20 * time.Millisecond
	defer func() { pingInterval = old }()

	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeRoomJoin,
		TrialID: "trial-1",
		Role:    "Audience",
		Name:    "Idle",
	})

	// Keep a reader running so the client answers the server's pings.
	msgs := make(chan protocol.ServerMessage, 16)
	readCtx, readCancel := context.WithCancel(context.Background())
	defer readCancel()
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				return
			}
			var m protocol.ServerMessage
			if json.Unmarshal(data, &m) == nil {
				msgs <- m
			}
		}
	}()

	ack := recvFrom(t, msgs, 2*time.Second)
	require.Equal(t, protocol.TypeRoomJoined, ack.Type)

	// Sit silent across many ping periods, as a seated audience member
	// does; the server must keep the connection open.
	time.Sleep(300 * time.Millisecond)

	sendMsg(t, conn, protocol.ClientMessage{
		Type:    protocol.TypeChatMsg,
		Payload: &protocol.ChatPayload{Text: "still here"},
	})
	echo := recvFrom(t, msgs, 2*time.Second)
	require.Equal(t, protocol.TypeChatMsg, echo.Type)
	require.NotNil(t, echo.Msg)
	assert.Equal(t, "still here", echo.Msg.Text)
}

func recvFrom(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("connection closed unexpectedly")
		}
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for server message")
		return protocol.ServerMessage{} // unreachable
	}
}
