package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/room"
)

func TestParseAction(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Action
		err  error
	}{
		{"create", `{"type":"create_room","code":"lan","name":" Friday ","secret":"pw","player":" Ada "}`,
			CreateRoom{Code: "lan", Name: "Friday", Secret: "pw", Player: "Ada"}, nil},
		{"create without player", `{"type":"create_room","code":"lan"}`, nil, ErrMissingName},
		{"join", `{"type":"join_room","code":"LAN","player":"Bob"}`, JoinRoom{Code: "LAN", Player: "Bob"}, nil},
		{"join without code", `{"type":"join_room","player":"Bob"}`, nil, ErrMissingCode},
		{"list", `{"type":"list_rooms"}`, ListRooms{}, nil},
		{"import", `{"type":"import_pool","code":"LAN","link":"https://docs.google.com/document/d/x","targetWinners":3}`,
			ImportPool{Code: "LAN", Link: "https://docs.google.com/document/d/x", TargetWinners: 3}, nil},
		{"import string target", `{"type":"import_pool","code":"LAN","link":"https://x.test","targetWinners":"4"}`,
			ImportPool{Code: "LAN", Link: "https://x.test", TargetWinners: 4}, nil},
		{"import default target", `{"type":"import_pool","code":"LAN","link":"https://x.test","targetWinners":""}`,
			ImportPool{Code: "LAN", Link: "https://x.test"}, nil},
		{"import text target", `{"type":"import_pool","code":"LAN","link":"https://x.test","targetWinners":"many"}`,
			ImportPool{Code: "LAN", Link: "https://x.test"}, nil},
		{"import negative target", `{"type":"import_pool","code":"LAN","link":"https://x.test","targetWinners":-3}`,
			ImportPool{Code: "LAN", Link: "https://x.test"}, nil},
		{"import fractional target", `{"type":"import_pool","code":"LAN","link":"https://x.test","targetWinners":2.5}`,
			ImportPool{Code: "LAN", Link: "https://x.test"}, nil},
		{"import missing target", `{"type":"import_pool","code":"LAN","link":"https://x.test"}`,
			ImportPool{Code: "LAN", Link: "https://x.test"}, nil},
		{"import without link", `{"type":"import_pool","code":"LAN"}`, nil, ErrMissingLink},
		{"vote", `{"type":"vote","code":"LAN","pick":"b"}`, CastVote{Code: "LAN", Pick: engine.PickB}, nil},
		{"vote bad pick", `{"type":"vote","code":"LAN","pick":"C"}`, nil, engine.ErrInvalidPick},
		{"vote without code", `{"type":"vote","pick":"A"}`, nil, ErrMissingCode},
		{"unknown", `{"type":"dance"}`, nil, ErrUnknownAction},
		{"no type", `{}`, nil, ErrMalformed},
		{"not json", `hello`, nil, ErrMalformed},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseAction([]byte(c.raw))
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				assert.Equal(t, fault.Validation, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParseAction_TruncatesLongNames(t *testing.T) {
	long := `{"type":"join_room","code":"LAN","player":"abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"}`
	got, err := ParseAction([]byte(long))
	require.NoError(t, err)
	assert.Len(t, got.(JoinRoom).Player, MaxNameLen)

	long = `{"type":"create_room","code":"LAN","player":"Ada","name":"` + strings.Repeat("ü", 100) + `"}`
	got, err = ParseAction([]byte(long))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ü", MaxNameLen), got.(CreateRoom).Name)
}

func TestServerMessages(t *testing.T) {
	raw, err := json.Marshal(Rooms(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"rooms","rooms":[]}`, string(raw))

	raw, err = json.Marshal(RoomState(room.View{Code: "LAN"}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"room_state"`)
	assert.NotContains(t, string(raw), `"rooms"`)

	msg := Error(engine.ErrNotMember)
	assert.Equal(t, fault.Authorization, msg.Error.Code)
	assert.Equal(t, engine.ErrNotMember.Error(), msg.Error.Message)

	msg = Error(errors.New("db exploded"))
	assert.Equal(t, fault.Internal, msg.Error.Code)
	assert.NotContains(t, msg.Error.Message, "db")
}
