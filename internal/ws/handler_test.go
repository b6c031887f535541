package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/gamenight-bracket/internal/docsource"
	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/hub"
	"github.com/DoyleJ11/gamenight-bracket/internal/secret"
	"github.com/DoyleJ11/gamenight-bracket/internal/types"
)

type stubLoader struct {
	games []engine.Candidate
	err   error
	calls atomic.Int32
}

func (l *stubLoader) Load(context.Context, string) ([]engine.Candidate, error) {
	l.calls.Add(1)
	return l.games, l.err
}

type stubCovers struct{}

func (stubCovers) Enrich(_ context.Context, games []engine.Candidate) []engine.Candidate {
	out := make([]engine.Candidate, len(games))
	for i, g := range games {
		g.ImageURL = "https://img.test/" + g.ID + ".jpg"
		out[i] = g
	}
	return out
}

func startServer(t *testing.T, loader Loader) string {
	t.Helper()
	h := hub.NewHub(context.Background(), hub.Options{})
	srv := httptest.NewServer(Handler(Deps{
		Hub:     h,
		Loader:  loader,
		Covers:  stubCovers{},
		Secrets: secret.NewHasher("test"),
	}))
	t.Cleanup(func() {
		srv.Close()
		h.Shutdown()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

// next reads until a message of type typ satisfying match arrives.
func next(t *testing.T, conn *websocket.Conn, typ string, match func(types.ServerMessage) bool) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var msg types.ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func players(n int) func(types.ServerMessage) bool {
	return func(m types.ServerMessage) bool { return m.Room != nil && len(m.Room.Members) == n }
}

func TestHandler_FullSelection(t *testing.T) {
	loader := &stubLoader{games: []engine.Candidate{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Beta"}}}
	url := startServer(t, loader)

	ada := dial(t, url)
	next(t, ada, types.TypeRooms, nil)
	send(t, ada, map[string]any{"type": "create_room", "code": "lan", "name": "Friday", "player": "Ada"})
	st := next(t, ada, types.TypeRoomState, players(1))
	assert.Equal(t, "LAN", st.Room.Code)
	assert.True(t, st.Room.IsAdmin)

	bob := dial(t, url)
	next(t, bob, types.TypeRooms, func(m types.ServerMessage) bool { return m.Rooms != nil && len(*m.Rooms) == 1 })
	send(t, bob, map[string]any{"type": "join_room", "code": "LAN", "player": "Bob"})
	st = next(t, bob, types.TypeRoomState, players(2))
	assert.False(t, st.Room.IsAdmin)
	next(t, ada, types.TypeRoomState, players(2))

	send(t, bob, map[string]any{"type": "import_pool", "code": "LAN", "link": "https://docs.google.com/document/d/x"})
	e := next(t, bob, types.TypeError, nil)
	assert.Equal(t, fault.Authorization, e.Error.Code)
	assert.Equal(t, int32(0), loader.calls.Load())

	send(t, ada, map[string]any{"type": "import_pool", "code": "LAN", "link": "https://docs.google.com/document/d/x", "targetWinners": 1})
	hasTournament := func(m types.ServerMessage) bool { return m.Room != nil && m.Room.Tournament != nil }
	st = next(t, bob, types.TypeRoomState, hasTournament)
	require.NotNil(t, st.Room.Tournament.CurrentA)
	assert.Equal(t, 1, st.Room.TargetWinners)
	assert.NotEmpty(t, st.Room.Tournament.CurrentA.ImageURL)
	next(t, ada, types.TypeRoomState, hasTournament)

	send(t, ada, map[string]any{"type": "vote", "code": "LAN", "pick": "A"})
	st = next(t, bob, types.TypeRoomState, func(m types.ServerMessage) bool {
		return m.Room != nil && m.Room.Tournament != nil && m.Room.Tournament.VotesCast == 1
	})
	assert.Equal(t, 0, st.Room.SelectedCount)

	send(t, bob, map[string]any{"type": "vote", "code": "LAN", "pick": "a"})
	st = next(t, ada, types.TypeRoomState, func(m types.ServerMessage) bool { return m.Room != nil && m.Room.SelectedCount == 1 })
	assert.True(t, st.Room.Done)
	assert.Nil(t, st.Room.Tournament)
}

func TestHandler_ErrorsGoToRequesterOnly(t *testing.T) {
	url := startServer(t, &stubLoader{})

	ada := dial(t, url)
	send(t, ada, map[string]any{"type": "create_room", "code": "LAN", "player": "Ada", "secret": "pw"})
	next(t, ada, types.TypeRoomState, players(1))

	eve := dial(t, url)
	send(t, eve, map[string]any{"type": "join_room", "code": "LAN", "player": "Eve", "secret": "guess"})
	e := next(t, eve, types.TypeError, nil)
	assert.Equal(t, fault.Authorization, e.Error.Code)

	send(t, eve, map[string]any{"type": "join_room", "code": "NOPE", "player": "Eve"})
	e = next(t, eve, types.TypeError, nil)
	assert.Equal(t, fault.NotFound, e.Error.Code)

	send(t, eve, map[string]any{"type": "vote", "code": "LAN", "pick": "Z"})
	e = next(t, eve, types.TypeError, nil)
	assert.Equal(t, fault.Validation, e.Error.Code)

	send(t, eve, map[string]any{"type": "create_room", "code": "lan", "player": "Eve"})
	e = next(t, eve, types.TypeError, nil)
	assert.Equal(t, fault.Conflict, e.Error.Code)

	// Ada saw none of it.
	send(t, ada, map[string]any{"type": "list_rooms"})
	list := next(t, ada, types.TypeRooms, nil)
	require.Len(t, *list.Rooms, 1)
	assert.Equal(t, []string{"Ada"}, (*list.Rooms)[0].Players)
	assert.True(t, (*list.Rooms)[0].Locked)
}

func TestHandler_FailedImportLeavesRoomUntouched(t *testing.T) {
	url := startServer(t, &stubLoader{err: docsource.ErrTooFewRows})

	ada := dial(t, url)
	send(t, ada, map[string]any{"type": "create_room", "code": "LAN", "player": "Ada"})
	next(t, ada, types.TypeRoomState, players(1))

	send(t, ada, map[string]any{"type": "import_pool", "code": "LAN", "link": "https://docs.google.com/document/d/x"})
	e := next(t, ada, types.TypeError, nil)
	assert.Equal(t, fault.External, e.Error.Code)
	assert.Equal(t, docsource.ErrTooFewRows.Error(), e.Error.Message)

	send(t, ada, map[string]any{"type": "join_room", "code": "LAN", "player": "Ada"})
	st := next(t, ada, types.TypeRoomState, nil)
	assert.Equal(t, 0, st.Room.PoolCount)
	assert.Nil(t, st.Room.Tournament)
}

func TestHandler_DisconnectLeavesRoom(t *testing.T) {
	url := startServer(t, &stubLoader{})

	ada := dial(t, url)
	send(t, ada, map[string]any{"type": "create_room", "code": "LAN", "player": "Ada"})
	next(t, ada, types.TypeRoomState, players(1))

	bob := dial(t, url)
	send(t, bob, map[string]any{"type": "join_room", "code": "LAN", "player": "Bob"})
	next(t, bob, types.TypeRoomState, players(2))

	ada.Close(websocket.StatusNormalClosure, "")

	st := next(t, bob, types.TypeRoomState, players(1))
	assert.True(t, st.Room.IsAdmin, "admin role moves to the remaining member")
}

func TestHandler_SwitchingRoomsLeavesTheOld(t *testing.T) {
	url := startServer(t, &stubLoader{})

	ada := dial(t, url)
	send(t, ada, map[string]any{"type": "create_room", "code": "ONE", "player": "Ada"})
	next(t, ada, types.TypeRoomState, players(1))

	bob := dial(t, url)
	send(t, bob, map[string]any{"type": "join_room", "code": "ONE", "player": "Bob"})
	next(t, bob, types.TypeRoomState, players(2))
	send(t, bob, map[string]any{"type": "create_room", "code": "TWO", "player": "Bob"})
	next(t, bob, types.TypeRoomState, func(m types.ServerMessage) bool { return m.Room != nil && m.Room.Code == "TWO" })

	next(t, ada, types.TypeRoomState, players(1))
}
