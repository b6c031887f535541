package hub

import (
	"context"

	"github.com/DoyleJ11/gamenight-bracket/internal/room"
)

// Create registers a new room with creator as its first member and admin.
func (h *Hub) Create(ctx context.Context, code, name string, digest []byte, creator room.Member) (*room.Room, error) {
	reply := make(chan Created, 1)
	if err := h.send(ctx, CreateRoom{Code: code, Name: name, Secret: digest, Creator: creator, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		if ctx.Err() != nil {
			go h.abandon(reply, creator.ID)
		}
		return nil, err
	}
	return res.Room, res.Err
}

// abandon takes the creator back out of a room whose Create call gave up
// waiting, so the room closes instead of lingering with a member nobody sees.
func (h *Hub) abandon(reply <-chan Created, clientID string) {
	select {
	case res := <-reply:
		if res.Room != nil {
			_ = res.Room.Leave(context.Background(), clientID)
		}
	case <-h.done:
	}
}

// Get looks up an active room. The code is normalized first.
func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (h *Hub) List(ctx context.Context) ([]room.Summary, error) {
	reply := make(chan []room.Summary, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, h, reply)
}

// NewCode returns a code no active room uses right now.
func (h *Hub) NewCode(ctx context.Context) (string, error) {
	reply := make(chan FreeCodeResult, 1)
	if err := h.send(ctx, FreeCode{Reply: reply}); err != nil {
		return "", err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return "", err
	}
	return res.Code, res.Err
}

func (h *Hub) Subscribe(ctx context.Context, id string, sub Subscriber) error {
	return h.send(ctx, Subscribe{ID: id, Sub: sub})
}

func (h *Hub) Unsubscribe(ctx context.Context, id string) error {
	return h.send(ctx, Unsubscribe{ID: id})
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrHubClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
