package hub

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/archive"
	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/room"
)

var ErrInvalidCode = fault.New(fault.Validation, "room code must be 3-16 letters, digits, _ or -")
var ErrCodeConflict = fault.New(fault.Conflict, "a room with that code is already active")
var ErrRoomNotFound = fault.New(fault.NotFound, "room not found")
var ErrHubClosed = fault.New(fault.Internal, "server is shutting down")

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,16}$`)

// NormalizeCode trims and upper-cases code and checks its character set.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

// Subscriber receives the directory listing whenever it changes. Like
// room.Peer it must not block; false drops the subscription.
type Subscriber interface {
	DeliverDirectory([]room.Summary) bool
}

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Code    string
	Name    string
	Secret  []byte // digest; nil leaves the room unlocked
	Creator room.Member
	Reply   chan Created
}

type Created struct {
	Room *room.Room
	Err  error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // nil when absent
}

type ListRooms struct {
	Reply chan []room.Summary
}

type Subscribe struct {
	ID  string
	Sub Subscriber
}

type Unsubscribe struct{ ID string }

type FreeCode struct {
	Reply chan FreeCodeResult
}

type FreeCodeResult struct {
	Code string
	Err  error
}

type ShutdownHub struct{}

// sent by rooms through the room.Directory methods
type roomChanged struct{ Summary room.Summary }

type roomClosed struct {
	Code string
	Room *room.Room
}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (ListRooms) isHubMsg()   {}
func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (FreeCode) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}
func (roomChanged) isHubMsg() {}
func (roomClosed) isHubMsg()  {}

// Options configure every room the hub creates.
type Options struct {
	DefaultTarget int
	FlashWindow   time.Duration
	NewEnv        func() engine.Env
	Archive       archive.Recorder
	Log           *zap.Logger
	Now           func() time.Time
}

type entry struct {
	room    *room.Room
	summary room.Summary
}

type Hub struct {
	inbox chan HubMsg
	done  chan struct{}
	rooms map[string]*entry
	subs  map[string]Subscriber
	opts  Options
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.NewEnv == nil {
		opts.NewEnv = engine.NewEnv
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		done:   make(chan struct{}),
		rooms:  make(map[string]*entry),
		subs:   make(map[string]Subscriber),
		opts:   opts,
		log:    opts.Log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// RoomChanged implements room.Directory.
func (h *Hub) RoomChanged(s room.Summary) { h.post(roomChanged{Summary: s}) }

// RoomClosed implements room.Directory.
func (h *Hub) RoomClosed(code string, r *room.Room) { h.post(roomClosed{Code: code, Room: r}) }

func (h *Hub) post(msg HubMsg) {
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				r, err := h.create(msg)
				msg.Reply <- Created{Room: r, Err: err}

			case GetRoom:
				if e := h.rooms[msg.Code]; e != nil {
					msg.Reply <- e.room
				} else {
					msg.Reply <- nil
				}

			case ListRooms:
				msg.Reply <- h.list()

			case Subscribe:
				h.subs[msg.ID] = msg.Sub
				if !msg.Sub.DeliverDirectory(h.list()) {
					delete(h.subs, msg.ID)
				}

			case Unsubscribe:
				delete(h.subs, msg.ID)

			case FreeCode:
				code, err := h.freeCode()
				msg.Reply <- FreeCodeResult{Code: code, Err: err}

			case roomChanged:
				e := h.rooms[msg.Summary.Code]
				if e == nil || !e.summary.CreatedAt.Equal(msg.Summary.CreatedAt) {
					break
				}
				e.summary = msg.Summary
				h.notify()

			case roomClosed:
				if e := h.rooms[msg.Code]; e != nil && e.room == msg.Room {
					delete(h.rooms, msg.Code)
					h.log.Info("room removed", zap.String("room", msg.Code))
					h.notify()
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateRoom) (*room.Room, error) {
	code, err := NormalizeCode(msg.Code)
	if err != nil {
		return nil, err
	}
	if e := h.rooms[code]; e != nil && e.summary.PlayerCount > 0 {
		return nil, ErrCodeConflict
	}

	name := strings.TrimSpace(msg.Name)
	if name == "" {
		name = code
	}
	r := room.New(h.ctx, room.Options{
		Code:          code,
		Name:          name,
		Secret:        msg.Secret,
		Creator:       msg.Creator,
		DefaultTarget: h.opts.DefaultTarget,
		FlashWindow:   h.opts.FlashWindow,
		Env:           h.opts.NewEnv(),
		Directory:     h,
		Archive:       h.opts.Archive,
		Log:           h.opts.Log,
	})
	h.rooms[code] = &entry{room: r, summary: r.Summary()}
	h.log.Info("room created", zap.String("room", code), zap.Bool("locked", msg.Secret != nil))
	h.notify()
	return r, nil
}

// list returns the rooms that have members, newest first.
func (h *Hub) list() []room.Summary {
	now := h.opts.Now()
	out := make([]room.Summary, 0, len(h.rooms))
	for _, e := range h.rooms {
		if e.summary.PlayerCount == 0 {
			continue
		}
		s := e.summary
		s.Players = slices.Clone(s.Players)
		s.CreatedAgo = humanize.RelTime(s.CreatedAt, now, "ago", "from now")
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b room.Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out
}

func (h *Hub) notify() {
	if len(h.subs) == 0 {
		return
	}
	listing := h.list()
	for id, sub := range h.subs {
		if !sub.DeliverDirectory(listing) {
			h.log.Warn("dropping slow directory subscriber", zap.String("client", id))
			delete(h.subs, id)
		}
	}
}

func (h *Hub) freeCode() (string, error) {
	for {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		if h.rooms[code] == nil {
			return code, nil
		}
		h.log.Debug("collision on code, regenerating", zap.String("code", code))
	}
}

// shutdown stops every room. Rooms run under the hub's context, so
// cancelling it is enough.
func (h *Hub) shutdown() {
	h.cancel()
	for code, e := range h.rooms {
		<-e.room.Done()
		delete(h.rooms, code)
	}
	clear(h.subs)
	h.log.Info("hub stopped")
}
