package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/room"
)

var ErrMalformed = fault.New(fault.Validation, "malformed message")
var ErrUnknownAction = fault.New(fault.Validation, "unknown action")
var ErrMissingCode = fault.New(fault.Validation, "room code is required")
var ErrMissingName = fault.New(fault.Validation, "player name is required")
var ErrMissingLink = fault.New(fault.Validation, "a document link is required")

const MaxNameLen = 40

// ClientMessage is the envelope of every inbound frame. Fields not used by
// an action are ignored.
type ClientMessage struct {
	Type          string          `json:"type"`
	Code          string          `json:"code,omitempty"`
	Name          string          `json:"name,omitempty"`
	Secret        string          `json:"secret,omitempty"`
	Player        string          `json:"player,omitempty"`
	Link          string          `json:"link,omitempty"`
	TargetWinners json.RawMessage `json:"targetWinners,omitempty"`
	Pick          string          `json:"pick,omitempty"`
}

const (
	TypeCreateRoom = "create_room"
	TypeJoinRoom   = "join_room"
	TypeListRooms  = "list_rooms"
	TypeImportPool = "import_pool"
	TypeCastVote   = "vote"
)

// Action is one validated client request.
type Action interface{ isAction() }

type CreateRoom struct {
	Code   string
	Name   string
	Secret string
	Player string
}

type JoinRoom struct {
	Code   string
	Player string
	Secret string
}

type ListRooms struct{}

type ImportPool struct {
	Code          string
	Link          string
	TargetWinners int // 0 means the room default
}

type CastVote struct {
	Code string
	Pick engine.Pick
}

func (CreateRoom) isAction() {}
func (JoinRoom) isAction()   {}
func (ListRooms) isAction()  {}
func (ImportPool) isAction() {}
func (CastVote) isAction()   {}

// ParseAction decodes and validates a raw frame.
func ParseAction(raw []byte) (Action, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg.Action()
}

func (m ClientMessage) Action() (Action, error) {
	switch m.Type {
	case TypeCreateRoom:
		code, player, err := codeAndPlayer(m)
		if err != nil {
			return nil, err
		}
		return CreateRoom{Code: code, Name: truncate(strings.TrimSpace(m.Name)), Secret: m.Secret, Player: player}, nil

	case TypeJoinRoom:
		code, player, err := codeAndPlayer(m)
		if err != nil {
			return nil, err
		}
		return JoinRoom{Code: code, Player: player, Secret: m.Secret}, nil

	case TypeListRooms:
		return ListRooms{}, nil

	case TypeImportPool:
		code := strings.TrimSpace(m.Code)
		if code == "" {
			return nil, ErrMissingCode
		}
		link := strings.TrimSpace(m.Link)
		if link == "" {
			return nil, ErrMissingLink
		}
		return ImportPool{Code: code, Link: link, TargetWinners: parseTarget(m.TargetWinners)}, nil

	case TypeCastVote:
		code := strings.TrimSpace(m.Code)
		if code == "" {
			return nil, ErrMissingCode
		}
		pick := engine.Pick(strings.ToUpper(strings.TrimSpace(m.Pick)))
		if !pick.Valid() {
			return nil, engine.ErrInvalidPick
		}
		return CastVote{Code: code, Pick: pick}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, m.Type)
	}
}

func codeAndPlayer(m ClientMessage) (string, string, error) {
	code := strings.TrimSpace(m.Code)
	if code == "" {
		return "", "", ErrMissingCode
	}
	player := strings.TrimSpace(m.Player)
	if player == "" {
		return "", "", ErrMissingName
	}
	return code, truncate(player), nil
}

func truncate(name string) string {
	if r := []rune(name); len(r) > MaxNameLen {
		return string(r[:MaxNameLen])
	}
	return name
}

// parseTarget accepts a JSON number or a numeric string. Anything that is
// not a positive integer means the room default.
func parseTarget(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if json.Unmarshal(raw, &str) != nil {
			return 0
		}
		if n, err = strconv.Atoi(strings.TrimSpace(str)); err != nil {
			return 0
		}
	}
	return max(n, 0)
}

// Outbound message types.
const (
	TypeRoomState = "room_state"
	TypeRooms     = "rooms"
	TypeError     = "error"
)

type ServerMessage struct {
	Type  string          `json:"type"`
	Room  *room.View      `json:"room,omitempty"`
	Rooms *[]room.Summary `json:"rooms,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    fault.Kind `json:"code"`
	Message string     `json:"message"`
}

func RoomState(v room.View) ServerMessage {
	return ServerMessage{Type: TypeRoomState, Room: &v}
}

func Rooms(list []room.Summary) ServerMessage {
	if list == nil {
		list = []room.Summary{}
	}
	return ServerMessage{Type: TypeRooms, Rooms: &list}
}

// Error turns err into a reply for the requester. Unclassified errors are
// reported generically so internals don't leak.
func Error(err error) ServerMessage {
	kind := fault.KindOf(err)
	msg := err.Error()
	if kind == fault.Internal {
		msg = "something went wrong"
	}
	return ServerMessage{Type: TypeError, Error: &ErrorBody{Code: kind, Message: msg}}
}
