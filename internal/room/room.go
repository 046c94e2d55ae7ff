// Package room implements the per-trial room actor: it owns the roster
// of joined participants and fans presence, pose, emote, chat, and
// banner events out to their outboxes. All room state is confined to
// the actor goroutine; other components talk to it through the inbox.
package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/protocol"
	"github.com/courtsim/courtroom-backend/internal/seat"
)

const maxChatLen = 500

type Msg interface{ isRoomMsg() }

type Join struct {
	ConnID string
	Role   protocol.Role
	Name   string
	Outbox chan protocol.ServerMessage
	Reply  chan JoinReply
}

// JoinReply tells the connection handler whether it is now a member,
// and hands it the room pointer for subsequent direct sends. The
// client-facing acknowledgement goes through the outbox instead, so it
// cannot be reordered against broadcasts.
type JoinReply struct {
	OK   bool
	Room *Room
}

type Leave struct{ ConnID string }

type SeatRequest struct {
	ConnID string
	Hint   seat.Point
}

type SeatRelease struct{ ConnID string }

type PoseUpdate struct {
	ConnID string
	Pose   protocol.Pose
}

type EmoteUpdate struct {
	ConnID     string
	Type       string
	DurationMs int64
}

type Chat struct {
	ConnID   string
	Text     string
	Position protocol.Vec3
}

type JudgeAction struct {
	ConnID string
	Action string
}

type SetRole struct {
	ConnID string
	Role   protocol.Role
}

// GetState reflects internal state without data races; used by tests.
type GetState struct{ Reply chan View }

type Shutdown struct{}

func (Join) isRoomMsg()        {}
func (Leave) isRoomMsg()       {}
func (SeatRequest) isRoomMsg() {}
func (SeatRelease) isRoomMsg() {}
func (PoseUpdate) isRoomMsg()  {}
func (EmoteUpdate) isRoomMsg() {}
func (Chat) isRoomMsg()        {}
func (JudgeAction) isRoomMsg() {}
func (SetRole) isRoomMsg()     {}
func (GetState) isRoomMsg()    {}
func (Shutdown) isRoomMsg()    {}

type View struct {
	Participants []protocol.ParticipantInfo
	SeatsHeld    map[string]string // connection id -> seat key
}

type participant struct {
	id      string
	role    protocol.Role
	name    string
	pose    *protocol.Pose
	emote   *protocol.Emote
	seatKey string
	outbox  chan protocol.ServerMessage
}

func (p *participant) info() protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		ID:      p.id,
		Name:    p.name,
		Role:    p.role,
		Pose:    p.pose,
		Emote:   p.emote,
		SeatKey: p.seatKey,
	}
}

type Room struct {
	id      string
	inbox   chan Msg
	members map[string]*participant
	seats   *seat.Allocator
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, id string, seats *seat.Allocator, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:      id,
		inbox:   make(chan Msg, 64),
		members: make(map[string]*participant),
		seats:   seats,
		log:     log.With(zap.String("room", id)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Leave:
				r.handleLeave(msg.ConnID)
			case SeatRequest:
				r.handleSeatRequest(msg)
			case SeatRelease:
				r.handleSeatRelease(msg.ConnID)
			case PoseUpdate:
				r.handlePose(msg)
			case EmoteUpdate:
				r.handleEmote(msg)
			case Chat:
				r.handleChat(msg)
			case JudgeAction:
				r.handleJudgeAction(msg)
			case SetRole:
				r.handleSetRole(msg)
			case GetState:
				msg.Reply <- r.view()
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	others := make([]protocol.ParticipantInfo, 0, len(r.members))
	for id, p := range r.members {
		if id != msg.ConnID {
			others = append(others, p.info())
		}
	}

	// Rejoin with the same connection id replaces the entry: the seat
	// and outbox of the previous incarnation are retired first.
	if prev, ok := r.members[msg.ConnID]; ok {
		if key, freed := r.seats.Release(r.id, prev.id); freed {
			r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
				Type:    protocol.TypeSeatFreed,
				ID:      prev.id,
				SeatKey: key,
			})
		}
		if prev.outbox != msg.Outbox {
			close(prev.outbox)
		}
	}

	p := &participant{
		id:     msg.ConnID,
		role:   msg.Role,
		name:   msg.Name,
		outbox: msg.Outbox,
	}
	r.members[msg.ConnID] = p

	var assigned *seat.Seat
	if msg.Role == protocol.RoleAudience {
		if s, _, err := r.seats.Request(r.id, msg.ConnID, seat.Point{}); err == nil {
			p.seatKey = s.Key
			assigned = &s
		}
		// A full room is not a join failure; the participant stands.
	}

	self := p.info()
	r.send(p, protocol.ServerMessage{
		Type:         protocol.TypeRoomJoined,
		OK:           protocol.Bool(true),
		Self:         &self,
		Participants: others,
		Seat:         assigned,
	})
	joined := p.info()
	r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
		Type:        protocol.TypePresenceJoined,
		Participant: &joined,
	})

	msg.Reply <- JoinReply{OK: true, Room: r}
	r.log.Debug("participant joined",
		zap.String("conn", msg.ConnID),
		zap.String("role", string(msg.Role)))
}

func (r *Room) handleLeave(connID string) {
	p, ok := r.members[connID]
	if !ok {
		return
	}
	// Seat release and roster removal happen in this one step so no
	// observer can see a held seat without a matching member.
	if key, freed := r.seats.Release(r.id, connID); freed {
		r.broadcastExcept(connID, protocol.ServerMessage{
			Type:    protocol.TypeSeatFreed,
			ID:      connID,
			SeatKey: key,
		})
	}
	// The outbox belongs to this membership: the connection spawned a
	// fresh one for the join, so it is closed on every removal path.
	delete(r.members, connID)
	close(p.outbox)
	r.broadcastExcept(connID, protocol.ServerMessage{
		Type: protocol.TypePresenceLeft,
		ID:   connID,
	})
	r.log.Debug("participant left", zap.String("conn", connID))
}

func (r *Room) handleSeatRequest(msg SeatRequest) {
	p, ok := r.members[msg.ConnID]
	if !ok {
		return
	}
	s, freedKey, err := r.seats.Request(r.id, msg.ConnID, msg.Hint)
	if err != nil {
		r.send(p, protocol.ServerMessage{
			Type:   protocol.TypeSeatAssigned,
			OK:     protocol.Bool(false),
			Reason: "no_seats",
		})
		return
	}
	if freedKey != "" {
		r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
			Type:    protocol.TypeSeatFreed,
			ID:      msg.ConnID,
			SeatKey: freedKey,
		})
	}
	p.seatKey = s.Key
	r.send(p, protocol.ServerMessage{
		Type: protocol.TypeSeatAssigned,
		OK:   protocol.Bool(true),
		Seat: &s,
	})
	r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
		Type: protocol.TypeSeatOccupied,
		ID:   msg.ConnID,
		Seat: &s,
	})
}

func (r *Room) handleSeatRelease(connID string) {
	p, ok := r.members[connID]
	if !ok {
		return
	}
	key, freed := r.seats.Release(r.id, connID)
	if !freed {
		return
	}
	p.seatKey = ""
	r.broadcastExcept(connID, protocol.ServerMessage{
		Type:    protocol.TypeSeatFreed,
		ID:      connID,
		SeatKey: key,
	})
}

func (r *Room) handlePose(msg PoseUpdate) {
	p, ok := r.members[msg.ConnID]
	if !ok {
		return // late event after disconnect
	}
	pose := msg.Pose
	p.pose = &pose
	r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
		Type: protocol.TypePoseBroadcast,
		ID:   msg.ConnID,
		Pose: &pose,
	})
}

func (r *Room) handleEmote(msg EmoteUpdate) {
	p, ok := r.members[msg.ConnID]
	if !ok {
		return
	}
	emote := protocol.Emote{
		Type:      msg.Type,
		ExpiresAt: time.Now().UnixMilli() + msg.DurationMs,
	}
	p.emote = &emote
	r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
		Type:  protocol.TypeEmoteUpdate,
		ID:    msg.ConnID,
		Emote: &emote,
	})
}

func (r *Room) handleChat(msg Chat) {
	p, ok := r.members[msg.ConnID]
	if !ok {
		return
	}
	text := msg.Text
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > maxChatLen {
		text = string(runes[:maxChatLen])
	}
	chat := protocol.ChatMessage{
		ID:       uuid.NewString(),
		From:     p.name,
		Role:     p.role,
		Text:     text,
		At:       time.Now().UnixMilli(),
		Position: msg.Position,
	}
	// Everyone, sender included: the sender's UI confirms delivery
	// through the same path as remote messages.
	r.broadcastAll(protocol.ServerMessage{
		Type: protocol.TypeChatMsg,
		Msg:  &chat,
	})
}

func (r *Room) handleJudgeAction(msg JudgeAction) {
	if _, ok := r.members[msg.ConnID]; !ok {
		return
	}
	// Any member may trigger a banner; the sender's role is not
	// checked, matching the trust-the-client courtroom behavior.
	var text string
	switch msg.Action {
	case "start":
		text = "Session started"
	case "stop":
		text = "Session stopped"
	case "call_witness":
		text = "Witness, please step forward"
	default:
		text = "Action"
	}
	r.broadcastAll(protocol.ServerMessage{
		Type:   protocol.TypeCourtBanner,
		Banner: &protocol.Banner{Text: text, At: time.Now().UnixMilli()},
	})
}

func (r *Room) handleSetRole(msg SetRole) {
	p, ok := r.members[msg.ConnID]
	if !ok {
		return
	}
	p.role = msg.Role
	if msg.Role != protocol.RoleAudience {
		if key, freed := r.seats.Release(r.id, msg.ConnID); freed {
			p.seatKey = ""
			r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
				Type:    protocol.TypeSeatFreed,
				ID:      msg.ConnID,
				SeatKey: key,
			})
		}
	}
	updated := p.info()
	r.broadcastExcept(msg.ConnID, protocol.ServerMessage{
		Type:        protocol.TypePresenceUpdate,
		Participant: &updated,
	})
}

func (r *Room) view() View {
	v := View{SeatsHeld: make(map[string]string)}
	for _, p := range r.members {
		v.Participants = append(v.Participants, p.info())
		if p.seatKey != "" {
			v.SeatsHeld[p.id] = p.seatKey
		}
	}
	return v
}

func (r *Room) shutdown() {
	for id, p := range r.members {
		r.seats.Release(r.id, id)
		close(p.outbox)
		delete(r.members, id)
	}
	r.cancel()
}

func (r *Room) send(p *participant, msg protocol.ServerMessage) {
	select {
	case p.outbox <- msg:
	default:
		r.evict(p)
	}
}

func (r *Room) broadcastAll(msg protocol.ServerMessage) {
	r.broadcastExcept("", msg)
}

func (r *Room) broadcastExcept(exclude string, msg protocol.ServerMessage) {
	var slow []*participant
	for id, p := range r.members {
		if id == exclude {
			continue
		}
		select {
		case p.outbox <- msg:
		default:
			slow = append(slow, p)
		}
	}
	for _, p := range slow {
		r.evict(p)
	}
}

// evict drops a slow or stuck consumer. Its connection handler notices
// the closed outbox and runs the normal leave path through the hub, so
// the hub's reference count stays accurate.
func (r *Room) evict(p *participant) {
	if _, ok := r.members[p.id]; !ok {
		return
	}
	r.log.Warn("dropping slow participant", zap.String("conn", p.id))
	if key, freed := r.seats.Release(r.id, p.id); freed {
		r.broadcastExcept(p.id, protocol.ServerMessage{
			Type:    protocol.TypeSeatFreed,
			ID:      p.id,
			SeatKey: key,
		})
	}
	delete(r.members, p.id)
	close(p.outbox)
	r.broadcastExcept(p.id, protocol.ServerMessage{
		Type: protocol.TypePresenceLeft,
		ID:   p.id,
	})
}
