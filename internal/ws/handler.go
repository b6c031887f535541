package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/hub"
	"github.com/DoyleJ11/gamenight-bracket/internal/ids"
	"github.com/DoyleJ11/gamenight-bracket/internal/room"
	"github.com/DoyleJ11/gamenight-bracket/internal/secret"
	"github.com/DoyleJ11/gamenight-bracket/internal/types"
)

var ErrImportBusy = fault.New(fault.Conflict, "an import is already running")

const (
	outboxSize     = 32
	writeTimeout   = 3 * time.Second
	pingInterval   = 30 * time.Second
	readLimit      = 64 << 10
	DefaultTimeout = 60 * time.Second
)

// Loader fetches a candidate pool from a document link.
type Loader interface {
	Load(ctx context.Context, link string) ([]engine.Candidate, error)
}

// Enricher adds cover images. It must not fail the import.
type Enricher interface {
	Enrich(ctx context.Context, games []engine.Candidate) []engine.Candidate
}

type Deps struct {
	Hub            *hub.Hub
	Loader         Loader
	Covers         Enricher
	Secrets        secret.Hasher
	Log            *zap.Logger
	OriginPatterns []string
	ImportTimeout  time.Duration
}

func Handler(d Deps) http.HandlerFunc {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.ImportTimeout <= 0 {
		d.ImportTimeout = DefaultTimeout
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.OriginPatterns,
		})
		if err != nil {
			d.Log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			id:   ids.New(),
			out:  make(chan types.ServerMessage, outboxSize),
			deps: d,
			kick: cancel,
		}
		c.log = d.Log.With(zap.String("client", c.id))
		c.log.Info("client connected", zap.String("remote", r.RemoteAddr))
		defer c.disconnect()

		go c.writeLoop(ctx, conn)
		go c.pingLoop(ctx, conn)

		if err := d.Hub.Subscribe(ctx, c.id, c); err != nil {
			c.log.Warn("directory subscribe failed", zap.Error(err))
			return
		}

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					c.log.Info("client disconnected")
				default:
					if ctx.Err() == nil {
						c.log.Info("client read failed", zap.Error(err))
					}
				}
				return
			}

			action, err := types.ParseAction(data)
			if err != nil {
				c.fail(err)
				continue
			}
			if err := c.handle(ctx, action); err != nil {
				c.fail(err)
			}
		}
	}
}

type client struct {
	id   string
	out  chan types.ServerMessage
	deps Deps
	log  *zap.Logger
	kick context.CancelFunc

	mu   sync.Mutex
	room *room.Room // the one room this client is in, if any

	importing atomic.Bool
	dropped   atomic.Bool
}

// DeliverRoom implements room.Peer.
func (c *client) DeliverRoom(v room.View) bool { return c.deliver(types.RoomState(v)) }

// DeliverDirectory implements hub.Subscriber.
func (c *client) DeliverDirectory(list []room.Summary) bool { return c.deliver(types.Rooms(list)) }

// deliver never blocks. A client whose outbox is full is disconnected.
func (c *client) deliver(msg types.ServerMessage) bool {
	if c.dropped.Load() {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		if c.dropped.CompareAndSwap(false, true) {
			c.log.Warn("client too slow, disconnecting")
			c.kick()
		}
		return false
	}
}

func (c *client) fail(err error) {
	kind := fault.KindOf(err)
	if kind == fault.Internal {
		c.log.Error("action failed", zap.Error(err))
	} else {
		c.log.Debug("action rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	c.deliver(types.Error(err))
}

func (c *client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.kick()
				return
			}
		}
	}
}

func (c *client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Info("ping failed", zap.Error(err))
				c.kick()
				return
			}
		}
	}
}

func (c *client) handle(ctx context.Context, a types.Action) error {
	switch a := a.(type) {
	case types.CreateRoom:
		digest := c.deps.Secrets.Digest(a.Secret)
		r, err := c.deps.Hub.Create(ctx, a.Code, a.Name, digest, c.member(a.Player))
		if err != nil {
			return err
		}
		c.enter(r)
		c.log.Info("created room", zap.String("room", r.Code()))
		return nil

	case types.JoinRoom:
		r, err := c.deps.Hub.Get(ctx, a.Code)
		if err != nil {
			return err
		}
		if err := r.Join(ctx, c.member(a.Player), c.deps.Secrets.Digest(a.Secret)); err != nil {
			return err
		}
		c.enter(r)
		return nil

	case types.ListRooms:
		list, err := c.deps.Hub.List(ctx)
		if err != nil {
			return err
		}
		c.deliver(types.Rooms(list))
		return nil

	case types.CastVote:
		r, err := c.deps.Hub.Get(ctx, a.Code)
		if err != nil {
			return err
		}
		return r.Vote(ctx, c.id, a.Pick)

	case types.ImportPool:
		return c.startImport(ctx, a)

	default:
		return types.ErrUnknownAction
	}
}

func (c *client) member(name string) room.Member {
	return room.Member{ID: c.id, Name: name, Peer: c}
}

// enter makes r the client's room, leaving the previous one.
func (c *client) enter(r *room.Room) {
	c.mu.Lock()
	prev := c.room
	c.room = r
	c.mu.Unlock()

	if prev != nil && prev != r {
		if err := prev.Leave(context.Background(), c.id); err != nil && !errors.Is(err, room.ErrClosed) {
			c.log.Warn("leaving previous room failed", zap.Error(err))
		}
	}
}

// startImport checks the admin role up front, then fetches outside the room
// and applies the result once everything loaded.
func (c *client) startImport(ctx context.Context, a types.ImportPool) error {
	r, err := c.deps.Hub.Get(ctx, a.Code)
	if err != nil {
		return err
	}
	if err := r.AuthorizeImport(ctx, c.id); err != nil {
		return err
	}
	if !c.importing.CompareAndSwap(false, true) {
		return ErrImportBusy
	}

	go func() {
		defer c.importing.Store(false)

		ictx, cancel := context.WithTimeout(ctx, c.deps.ImportTimeout)
		defer cancel()

		start := time.Now()
		games, err := c.deps.Loader.Load(ictx, a.Link)
		if err != nil {
			c.fail(err)
			return
		}
		if c.deps.Covers != nil {
			games = c.deps.Covers.Enrich(ictx, games)
		}
		if err := r.ApplyImport(ictx, c.id, games, a.TargetWinners); err != nil {
			c.fail(err)
			return
		}
		c.log.Info("import applied",
			zap.String("room", r.Code()),
			zap.Int("games", len(games)),
			zap.Duration("took", time.Since(start)))
	}()
	return nil
}

func (c *client) disconnect() {
	c.kick()

	c.mu.Lock()
	r := c.room
	c.room = nil
	c.mu.Unlock()

	// the request context is gone by now
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if r != nil {
		_ = r.Leave(ctx, c.id)
	}
	_ = c.deps.Hub.Unsubscribe(ctx, c.id)
}
