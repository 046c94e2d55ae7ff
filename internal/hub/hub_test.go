package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/protocol"
	"github.com/courtsim/courtroom-backend/internal/room"
	"github.com/courtsim/courtroom-backend/internal/seat"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, seat.NewAllocator(seat.DefaultLayout()), zap.NewNop())
}

func joinVia(t *testing.T, h *Hub, roomID, connID string) (chan protocol.ServerMessage, *room.Room) {
	t.Helper()
	out := make(chan protocol.ServerMessage, 16)
	reply := make(chan room.JoinReply, 1)
	h.Inbox() <- JoinRoom{
		RoomID: roomID,
		Join: room.Join{
			ConnID: connID,
			Role:   protocol.RoleAudience,
			Name:   connID,
			Outbox: out,
			Reply:  reply,
		},
	}
	select {
	case jr := <-reply:
		require.True(t, jr.OK)
		// Drain the join acknowledgement.
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for join ack")
		}
		return out, jr.Room
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for join reply")
		return nil, nil // unreachable
	}
}

func getRoom(t *testing.T, h *Hub, roomID string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- GetRoom{RoomID: roomID, Reply: reply}
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for room lookup")
		return nil // unreachable
	}
}

func TestHub_JoinCreatesRoomOnce(t *testing.T) {
	h := newTestHub(t)

	_, r1 := joinVia(t, h, "trial-1", "a")
	joinVia(t, h, "trial-1", "b")

	r2 := getRoom(t, h, "trial-1")
	require.NotNil(t, r2)
	assert.Same(t, r1, r2, "second join reuses the room")
}

func TestHub_RoomRetiredWhenLastMemberLeaves(t *testing.T) {
	h := newTestHub(t)

	_, first := joinVia(t, h, "trial-1", "a")
	joinVia(t, h, "trial-1", "b")

	h.Inbox() <- LeaveRoom{RoomID: "trial-1", ConnID: "a"}
	require.NotNil(t, getRoom(t, h, "trial-1"), "room survives while occupied")

	h.Inbox() <- LeaveRoom{RoomID: "trial-1", ConnID: "b"}
	assert.Nil(t, getRoom(t, h, "trial-1"), "empty room is retired")

	// A fresh join recreates the room from scratch, seats included.
	_, recreated := joinVia(t, h, "trial-1", "c")
	assert.NotSame(t, first, recreated)
}

func TestHub_CrossRoomIsolation(t *testing.T) {
	h := newTestHub(t)

	_, r1 := joinVia(t, h, "trial-1", "a")
	outB, _ := joinVia(t, h, "trial-2", "b")

	r1.Inbox() <- room.Chat{ConnID: "a", Text: "order in the court"}
	r1.Inbox() <- room.JudgeAction{ConnID: "a", Action: "start"}

	select {
	case msg := <-outB:
		t.Fatalf("trial-2 member received trial-1 traffic: %+v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHub_AbandonedJoinUnwound(t *testing.T) {
	h := newTestHub(t)

	// A handler that gives up on the join (reply never consumed) still
	// compensates with a leave; the refcount and roster must not leak.
	out := make(chan protocol.ServerMessage, 16)
	reply := make(chan room.JoinReply, 1)
	h.Inbox() <- JoinRoom{
		RoomID: "trial-1",
		Join: room.Join{
			ConnID: "a",
			Role:   protocol.RoleAudience,
			Name:   "a",
			Outbox: out,
			Reply:  reply,
		},
	}
	h.Inbox() <- LeaveRoom{RoomID: "trial-1", ConnID: "a"}

	assert.Nil(t, getRoom(t, h, "trial-1"), "abandoned join must not pin the room")

	// The room closed the orphaned membership's outbox on the way out.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("orphaned outbox never closed")
		}
	}
}

func TestHub_LeaveUnknownRoomIsNoop(t *testing.T) {
	h := newTestHub(t)
	h.Inbox() <- LeaveRoom{RoomID: "ghost", ConnID: "a"}
	assert.Nil(t, getRoom(t, h, "ghost"))
}
