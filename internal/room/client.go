package room

import (
	"context"
	"errors"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

// The helpers below wrap the inbox for callers outside the room goroutine.
// Each returns ErrClosed instead of blocking once the room has shut down.

// Join adds m to the room. If ctx ends after the room took the request, the
// member is removed again once the room gets to it.
func (r *Room) Join(ctx context.Context, m Member, digest []byte) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, Join{Member: m, Secret: digest, Reply: reply}); err != nil {
		return err
	}
	err := r.wait(ctx, reply)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		go r.abandon(reply, m.ID)
	}
	return err
}

func (r *Room) abandon(reply <-chan error, clientID string) {
	select {
	case err := <-reply:
		if err == nil {
			_ = r.Leave(context.Background(), clientID)
		}
	case <-r.done:
	}
}

func (r *Room) Leave(ctx context.Context, clientID string) error {
	return r.send(ctx, Leave{ClientID: clientID})
}

func (r *Room) Vote(ctx context.Context, clientID string, pick engine.Pick) error {
	reply := make(chan error, 1)
	return r.call(ctx, Vote{ClientID: clientID, Pick: pick, Reply: reply}, reply)
}

func (r *Room) AuthorizeImport(ctx context.Context, clientID string) error {
	reply := make(chan error, 1)
	return r.call(ctx, AuthorizeImport{ClientID: clientID, Reply: reply}, reply)
}

func (r *Room) ApplyImport(ctx context.Context, clientID string, pool []engine.Candidate, target int) error {
	reply := make(chan error, 1)
	return r.call(ctx, ApplyImport{ClientID: clientID, Pool: pool, Target: target, Reply: reply}, reply)
}

func (r *Room) State(ctx context.Context, clientID string) (Status, error) {
	reply := make(chan Status, 1)
	if err := r.send(ctx, GetState{ClientID: clientID, Reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-r.done:
		select {
		case st := <-reply:
			return st, nil
		default:
			return Status{}, ErrClosed
		}
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (r *Room) send(ctx context.Context, msg Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- msg:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) call(ctx context.Context, msg Msg, reply chan error) error {
	if err := r.send(ctx, msg); err != nil {
		return err
	}
	return r.wait(ctx, reply)
}

func (r *Room) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
