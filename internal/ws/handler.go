// Package ws is the connection side of the relay: one handler per
// websocket, decoding client messages and forwarding them to the room
// the connection has joined.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courtsim/courtroom-backend/internal/hub"
	"github.com/courtsim/courtroom-backend/internal/protocol"
	"github.com/courtsim/courtroom-backend/internal/room"
	"github.com/courtsim/courtroom-backend/internal/seat"
)

const (
	writeTimeout = 3 * time.Second
	joinTimeout  = 5 * time.Second
	outboxSize   = 32
)

// pingInterval paces the server-side keepalive; a failed ping closes
// the socket. Variable so tests can shorten it.
var pingInterval = 30 * time.Second

func Handler(h *hub.Hub, allowedOrigins []string, log *zap.Logger) http.HandlerFunc {
	patterns := originPatterns(allowedOrigins)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: patterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &connection{
			id:   uuid.NewString(),
			conn: conn,
			hub:  h,
		}
		c.log = log.With(zap.String("conn", c.id[:8]))
		c.run(r.Context())
	}
}

// connection is the per-socket protocol state machine: Unjoined until a
// room:join succeeds, Joined while it holds a room pointer. Each join
// gets its own outbox channel and writer goroutine; the room owns the
// outbox from join until roster removal and closes it then, so a
// connection never hands a closed channel to another room.
type connection struct {
	id   string
	conn *websocket.Conn
	hub  *hub.Hub
	log  *zap.Logger
	ctx  context.Context

	room       *room.Room
	roomID     string
	writerStop context.CancelFunc
}

func (c *connection) run(ctx context.Context) {
	c.ctx = ctx

	// Disconnect is the only cancellation signal: leaving through the
	// hub releases the seat and roster entry in one room step.
	defer c.leave()

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.keepalive(pingCtx)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm protocol.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.sendError("bad json")
			continue
		}
		c.dispatch(cm)
	}
}

// keepalive pings on a timer so seated-but-idle clients are kept open
// and dead peers are detected. The reader has no deadline of its own;
// a failed ping closes the socket, which unblocks it.
func (c *connection) keepalive(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// writer drains one join's outbox onto the socket. The room closes the
// outbox when the participant leaves its roster; if that happens with
// no local leave, the room evicted us (or shut down), and closing the
// socket is the only way to tell the client.
func (c *connection) writer(ctx context.Context, outbox <-chan protocol.ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbox:
			if !ok {
				if ctx.Err() == nil {
					c.conn.Close(websocket.StatusPolicyViolation, "dropped by room")
				}
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *connection) dispatch(cm protocol.ClientMessage) {
	if cm.Type == protocol.TypeRoomJoin {
		c.join(cm)
		return
	}

	// Everything else is valid only while joined; late or stray
	// events are dropped without a reply.
	if c.room == nil {
		return
	}

	switch cm.Type {
	case protocol.TypeRoomLeave:
		c.leave()

	case protocol.TypeSeatRequest:
		hint := seat.Point{}
		if cm.Hint != nil {
			hint = seat.Point{X: cm.Hint.X, Z: cm.Hint.Z}
		}
		c.room.Inbox() <- room.SeatRequest{ConnID: c.id, Hint: hint}

	case protocol.TypeSeatRelease:
		c.room.Inbox() <- room.SeatRelease{ConnID: c.id}

	case protocol.TypePoseUpdate:
		if cm.Pose == nil {
			return
		}
		c.room.Inbox() <- room.PoseUpdate{ConnID: c.id, Pose: *cm.Pose}

	case protocol.TypeEmoteUpdate:
		if cm.Emote == nil || cm.Emote.Type == "" {
			return
		}
		c.room.Inbox() <- room.EmoteUpdate{
			ConnID:     c.id,
			Type:       cm.Emote.Type,
			DurationMs: cm.Emote.DurationMs,
		}

	case protocol.TypeChatMsg:
		if cm.Payload == nil || cm.Payload.Text == "" {
			return
		}
		pos := protocol.Vec3{}
		if cm.Payload.Position != nil {
			pos = *cm.Payload.Position
		}
		c.room.Inbox() <- room.Chat{ConnID: c.id, Text: cm.Payload.Text, Position: pos}

	case protocol.TypeJudgeAction:
		if cm.Action == "" {
			return
		}
		c.room.Inbox() <- room.JudgeAction{ConnID: c.id, Action: cm.Action}

	case protocol.TypeRoleSet:
		role, ok := protocol.ParseRole(cm.Role)
		if !ok {
			return
		}
		c.room.Inbox() <- room.SetRole{ConnID: c.id, Role: role}

	default:
		c.sendError("unknown type")
	}
}

func (c *connection) join(cm protocol.ClientMessage) {
	if cm.TrialID == "" {
		c.sendError("missing trialId")
		return
	}
	role, ok := protocol.ParseRole(cm.Role)
	if !ok {
		role = protocol.RoleAudience
	}
	name := cm.Name
	if name == "" {
		name = "User"
	}

	// Joining while joined means switching rooms.
	if c.room != nil {
		c.leave()
	}

	// Fresh outbox and writer for this membership.
	outbox := make(chan protocol.ServerMessage, outboxSize)
	wctx, wcancel := context.WithCancel(c.ctx)
	go c.writer(wctx, outbox)

	reply := make(chan room.JoinReply, 1)
	c.hub.Inbox() <- hub.JoinRoom{
		RoomID: cm.TrialID,
		Join: room.Join{
			ConnID: c.id,
			Role:   role,
			Name:   name,
			Outbox: outbox,
			Reply:  reply,
		},
	}
	select {
	case jr := <-reply:
		if jr.OK {
			c.room = jr.Room
			c.roomID = cm.TrialID
			c.writerStop = wcancel
			return
		}
		wcancel()
	case <-time.After(joinTimeout):
		c.log.Warn("join reply timed out", zap.String("room", cm.TrialID))
		// The hub already counted this join; unwind it so the room's
		// refcount and roster do not leak.
		c.hub.Inbox() <- hub.LeaveRoom{RoomID: cm.TrialID, ConnID: c.id}
		wcancel()
	}
}

func (c *connection) leave() {
	if c.room == nil {
		return
	}
	// Stop the writer before the room closes its outbox, so the close
	// is not mistaken for an eviction.
	if c.writerStop != nil {
		c.writerStop()
		c.writerStop = nil
	}
	c.hub.Inbox() <- hub.LeaveRoom{RoomID: c.roomID, ConnID: c.id}
	c.room = nil
	c.roomID = ""
}

// originPatterns reduces configured origins (full URLs, shared with the
// CORS middleware) to the host patterns websocket.Accept matches on.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (c *connection) sendError(reason string) {
	payload, _ := json.Marshal(protocol.ServerMessage{
		Type:  protocol.TypeError,
		Error: reason,
	})
	wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	_ = c.conn.Write(wctx, websocket.MessageText, payload)
}
