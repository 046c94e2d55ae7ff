// Package hub owns the set of live trial rooms. Room creation, joins,
// and leaves are serialized through the hub goroutine, which keeps an
// exact reference count of joined connections per room; a room whose
// count reaches zero is shut down and its seat state dropped.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/room"
	"github.com/courtsim/courtroom-backend/internal/seat"
)

type Msg interface{ isHubMsg() }

// JoinRoom creates the room if needed and forwards the join request
// into its inbox. The room replies to Join.Reply directly.
type JoinRoom struct {
	RoomID string
	Join   room.Join
}

type LeaveRoom struct {
	RoomID string
	ConnID string
}

type GetRoom struct {
	RoomID string
	Reply  chan *room.Room
}

type Shutdown struct{}

func (JoinRoom) isHubMsg()  {}
func (LeaveRoom) isHubMsg() {}
func (GetRoom) isHubMsg()   {}
func (Shutdown) isHubMsg()  {}

type entry struct {
	room *room.Room
	refs int
}

type Hub struct {
	inbox  chan Msg
	rooms  map[string]*entry
	seats  *seat.Allocator
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, seats *seat.Allocator, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*entry),
		seats:  seats,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case JoinRoom:
				e := h.rooms[msg.RoomID]
				if e == nil {
					e = &entry{room: room.New(h.ctx, msg.RoomID, h.seats, h.log)}
					h.rooms[msg.RoomID] = e
					h.log.Info("room created", zap.String("room", msg.RoomID))
				}
				e.refs++
				e.room.Inbox() <- msg.Join

			case LeaveRoom:
				e := h.rooms[msg.RoomID]
				if e == nil {
					break
				}
				e.room.Inbox() <- room.Leave{ConnID: msg.ConnID}
				e.refs--
				if e.refs <= 0 {
					e.room.Inbox() <- room.Shutdown{}
					h.seats.Drop(msg.RoomID)
					delete(h.rooms, msg.RoomID)
					h.log.Info("room retired", zap.String("room", msg.RoomID))
				}

			case GetRoom:
				if e := h.rooms[msg.RoomID]; e != nil {
					msg.Reply <- e.room
				} else {
					msg.Reply <- nil
				}

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, e := range h.rooms {
		e.room.Inbox() <- room.Shutdown{}
		h.seats.Drop(id)
	}
	clear(h.rooms)
	h.cancel()
}
