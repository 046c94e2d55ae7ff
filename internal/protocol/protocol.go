// Package protocol defines the wire messages exchanged with courtroom
// clients. Both directions use a single flat JSON struct switched on a
// "type" field; fields irrelevant to a given type are omitted.
package protocol

import "github.com/courtsim/courtroom-backend/internal/seat"

type Role string

const (
	RoleJudge    Role = "Judge"
	RoleAccused  Role = "Accused"
	RoleAudience Role = "Audience"
)

// ParseRole maps a client-supplied role string to a known role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "Judge":
		return RoleJudge, true
	case "Accused":
		return RoleAccused, true
	case "Audience":
		return RoleAudience, true
	default:
		return "", false
	}
}

// Pose is a participant's position and heading on the courtroom floor.
type Pose struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RY float64 `json:"ry"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Emote is the stored form of an emote: its expiry is absolute so that
// late joiners can decide whether it is still worth rendering.
type Emote struct {
	Type      string `json:"type"`
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

// EmoteRequest is the client-side form, with a relative duration.
type EmoteRequest struct {
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type Hint struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

type ChatPayload struct {
	Text     string `json:"text"`
	Position *Vec3  `json:"position,omitempty"`
}

// ChatMessage is the stamped, server-side form broadcast to the room.
type ChatMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Role     Role   `json:"role"`
	Text     string `json:"text"`
	At       int64  `json:"at"` // unix millis
	Position Vec3   `json:"position"`
}

type Banner struct {
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// ParticipantInfo is a participant snapshot as seen by other clients.
type ParticipantInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Pose    *Pose  `json:"pose,omitempty"`
	Emote   *Emote `json:"emote,omitempty"`
	SeatKey string `json:"seat_key,omitempty"`
}

// Client -> server message types.
const (
	TypeRoomJoin    = "room:join"
	TypeRoomLeave   = "room:leave"
	TypeSeatRequest = "seat:request"
	TypeSeatRelease = "seat:release"
	TypePoseUpdate  = "pose:update"
	TypeEmoteUpdate = "emote:update"
	TypeChatMsg     = "chat:msg"
	TypeJudgeAction = "judge:action"
	TypeRoleSet     = "role:set"
)

// Server -> client message types. TypeEmoteUpdate and TypeChatMsg are
// reused for the broadcast direction.
const (
	TypeRoomJoined     = "room:joined"
	TypePresenceJoined = "presence:joined"
	TypePresenceLeft   = "presence:left"
	TypePresenceUpdate = "presence:update"
	TypeSeatAssigned   = "seat:assigned"
	TypeSeatOccupied   = "seat:occupied"
	TypeSeatFreed      = "seat:freed"
	TypePoseBroadcast  = "pose:broadcast"
	TypeCourtBanner    = "court:banner"
	TypeError          = "error"
)

type ClientMessage struct {
	Type    string        `json:"type"`
	TrialID string        `json:"trialId,omitempty"`
	Role    string        `json:"role,omitempty"`
	Name    string        `json:"name,omitempty"`
	Hint    *Hint         `json:"hint,omitempty"`
	Pose    *Pose         `json:"pose,omitempty"`
	Emote   *EmoteRequest `json:"emote,omitempty"`
	Payload *ChatPayload  `json:"payload,omitempty"`
	Action  string        `json:"action,omitempty"`
}

type ServerMessage struct {
	Type         string            `json:"type"`
	OK           *bool             `json:"ok,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
	Self         *ParticipantInfo  `json:"self,omitempty"`
	Participants []ParticipantInfo `json:"participants,omitzero"`
	Participant  *ParticipantInfo  `json:"participant,omitempty"`
	ID           string            `json:"id,omitempty"`
	Seat         *seat.Seat        `json:"seat,omitempty"`
	SeatKey      string            `json:"seatKey,omitempty"`
	Pose         *Pose             `json:"pose,omitempty"`
	Emote        *Emote            `json:"emote,omitempty"`
	Msg          *ChatMessage      `json:"msg,omitempty"`
	Banner       *Banner           `json:"banner,omitempty"`
}

// Bool returns a pointer for the ServerMessage OK field.
func Bool(b bool) *bool { return &b }
