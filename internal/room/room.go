package room

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/archive"
	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
	"github.com/DoyleJ11/gamenight-bracket/internal/secret"
)

var ErrClosed = fault.New(fault.NotFound, "room not found")
var ErrWrongSecret = fault.New(fault.Authorization, "wrong room password")
var ErrNotAdmin = fault.New(fault.Authorization, "only the room admin can do that")

const DefaultFlashWindow = 5 * time.Second

// Peer is a connected client. DeliverRoom must not block; returning false
// means the client could not keep up and is dropped from the room.
type Peer interface {
	DeliverRoom(View) bool
}

type Member struct {
	ID   string
	Name string
	Peer Peer
}

// Directory is told about every membership change and when the room closes.
type Directory interface {
	RoomChanged(Summary)
	RoomClosed(code string, r *Room)
}

type Msg interface{ isRoomMsg() }

type Join struct {
	Member Member
	Secret []byte // digest, computed by the caller
	Reply  chan error
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

type Vote struct {
	ClientID string
	Pick     engine.Pick
	Reply    chan error
}

func (Vote) isRoomMsg() {}

type AuthorizeImport struct {
	ClientID string
	Reply    chan error
}

func (AuthorizeImport) isRoomMsg() {}

type ApplyImport struct {
	ClientID string
	Pool     []engine.Candidate
	Target   int
	Reply    chan error
}

func (ApplyImport) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	ClientID string
	Reply    chan Status
}

func (GetState) isRoomMsg() {}

// Status mirrors the room for tests and the directory without racing the loop.
type Status struct {
	Version    int
	NumMembers int
	AdminID    string
	View       View
}

type Options struct {
	Code          string
	Name          string
	Secret        []byte
	Creator       Member
	DefaultTarget int
	FlashWindow   time.Duration
	Env           engine.Env
	Directory     Directory
	Archive       archive.Recorder
	Log           *zap.Logger
}

type Room struct {
	inbox chan Msg
	done  chan struct{}

	code      string
	name      string
	secret    []byte
	createdAt time.Time

	admin   string
	members map[string]*Member
	order   []string // join order, drives admin handover

	state   engine.State
	version int

	defaultTarget int
	flashWindow   time.Duration
	env           engine.Env
	dir           Directory
	archive       archive.Recorder
	log           *zap.Logger

	initial Summary

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a room whose first member and admin is opts.Creator.
func New(parent context.Context, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)

	if opts.DefaultTarget <= 0 {
		opts.DefaultTarget = engine.DefaultTarget
	}
	if opts.FlashWindow <= 0 {
		opts.FlashWindow = DefaultFlashWindow
	}
	if opts.Env.Rand == nil {
		opts.Env = engine.NewEnv()
	}
	if opts.Archive == nil {
		opts.Archive = archive.Nop{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	r := &Room{
		inbox:         make(chan Msg, 64),
		done:          make(chan struct{}),
		code:          opts.Code,
		name:          opts.Name,
		secret:        opts.Secret,
		createdAt:     opts.Env.Now(),
		members:       make(map[string]*Member),
		state:         engine.NewEmptyState(opts.DefaultTarget),
		defaultTarget: opts.DefaultTarget,
		flashWindow:   opts.FlashWindow,
		env:           opts.Env,
		dir:           opts.Directory,
		archive:       opts.Archive,
		log:           opts.Log.With(zap.String("room", opts.Code)),
		ctx:           ctx,
		cancel:        cancel,
	}

	creator := opts.Creator
	r.members[creator.ID] = &creator
	r.order = []string{creator.ID}
	r.admin = creator.ID
	r.initial = r.summary()

	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Done is closed once the room stops accepting messages.
func (r *Room) Done() <-chan struct{} { return r.done }

// Expose the inbox so tests or the ws layer can send messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Summary is the room's initial directory entry, before the loop reports any change.
func (r *Room) Summary() Summary { return r.initial }

func (r *Room) loop() {
	defer close(r.done)

	r.log.Info("room opened", zap.String("admin", r.admin))
	r.commit()
	r.publish()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.join(msg)

			case Leave:
				r.leave(msg.ClientID)

			case Vote:
				msg.Reply <- r.vote(msg)

			case AuthorizeImport:
				msg.Reply <- r.authorize(msg.ClientID)

			case ApplyImport:
				msg.Reply <- r.applyImport(msg)

			case GetState:
				msg.Reply <- Status{
					Version:    r.version,
					NumMembers: len(r.members),
					AdminID:    r.admin,
					View:       r.project(msg.ClientID, r.env.Now()),
				}

			case Shutdown:
				r.shutdown()
				return
			}

			if len(r.members) == 0 {
				r.close()
				return
			}
		}
	}
}

func (r *Room) join(msg Join) error {
	if r.secret != nil && !secret.Equal(r.secret, msg.Secret) {
		r.log.Info("join rejected: wrong secret", zap.String("client", msg.Member.ID))
		return ErrWrongSecret
	}

	m := msg.Member
	if _, ok := r.members[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.members[m.ID] = &m
	if r.admin == "" {
		r.admin = m.ID
	}

	r.log.Info("member joined", zap.String("client", m.ID), zap.String("name", m.Name))
	r.version++
	r.commit()
	r.publish()
	return nil
}

func (r *Room) leave(id string) {
	if !r.remove(id) {
		return
	}
	r.commit()
	r.publish()
}

// remove drops id from the room, hands the admin role on and re-checks the
// open match, since the remaining members may all have voted already.
func (r *Room) remove(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })

	if r.admin == id {
		r.admin = ""
		if len(r.order) > 0 {
			r.admin = r.order[0]
		}
		r.log.Info("admin handed over", zap.String("from", id), zap.String("to", r.admin))
	}
	r.log.Info("member left", zap.String("client", id), zap.Int("remaining", len(r.members)))

	if len(r.members) > 0 {
		if err := r.apply(engine.Command{Type: engine.CmdSettle, Voters: r.voters()}); err != nil {
			r.log.Warn("settle after leave failed", zap.String("client", id), zap.Error(err))
		}
	}
	r.version++
	return true
}

func (r *Room) vote(msg Vote) error {
	if _, ok := r.members[msg.ClientID]; !ok {
		return engine.ErrNotMember
	}
	err := r.apply(engine.Command{
		Type:   engine.CmdVote,
		Voter:  msg.ClientID,
		Pick:   msg.Pick,
		Voters: r.voters(),
	})
	if err != nil {
		return err
	}
	r.version++
	r.commit()
	return nil
}

func (r *Room) authorize(id string) error {
	if r.admin == "" || r.admin != id {
		return ErrNotAdmin
	}
	return nil
}

func (r *Room) applyImport(msg ApplyImport) error {
	// The admin may have changed while the pool was being fetched.
	if err := r.authorize(msg.ClientID); err != nil {
		return err
	}

	target := msg.Target
	if target <= 0 {
		target = r.defaultTarget
	}
	err := r.apply(engine.Command{Type: engine.CmdLoadPool, Pool: msg.Pool, Target: target})
	if err != nil {
		return err
	}

	r.log.Info("pool imported", zap.Int("candidates", len(msg.Pool)), zap.Int("target", target))
	r.version++
	r.commit()
	return nil
}

func (r *Room) apply(cmd engine.Command) error {
	events, newState, err := engine.Apply(r.state, cmd, r.env)
	if err != nil {
		return err
	}
	r.state = newState

	for _, e := range events {
		switch e.Type {
		case engine.EvtChampionCrowned:
			r.log.Info("champion crowned", zap.String("candidate", e.CandidateID), zap.Int("selected", len(r.state.Selected)))
		case engine.EvtCoinFlipped:
			r.log.Info("tie broken by coin flip", zap.String("match", e.MatchID), zap.String("winner", e.CandidateID))
		case engine.EvtSelectionComplete:
			r.archive.Record(archive.Result{
				Code:       r.code,
				Name:       r.name,
				Winners:    slices.Clone(r.state.Selected),
				Members:    len(r.members),
				FinishedAt: r.env.Now(),
			})
		default:
			r.log.Debug("event", zap.String("type", string(e.Type)), zap.String("match", e.MatchID))
		}
	}
	return nil
}

// commit pushes the current projection to every member. Members whose peer
// refuses delivery are removed, which changes the state again, so repeat
// until a broadcast reaches everyone left.
func (r *Room) commit() {
	for {
		dropped := r.broadcast()
		if len(dropped) == 0 {
			return
		}
		for _, id := range dropped {
			r.log.Warn("dropping slow member", zap.String("client", id))
			r.remove(id)
		}
		r.publish()
	}
}

func (r *Room) broadcast() []string {
	now := r.env.Now()
	var dropped []string
	for _, id := range r.order {
		m := r.members[id]
		if m.Peer == nil {
			continue
		}
		if !m.Peer.DeliverRoom(r.project(id, now)) {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (r *Room) publish() {
	if r.dir != nil {
		r.dir.RoomChanged(r.summary())
	}
}

func (r *Room) close() {
	r.log.Info("room closed")
	if r.dir != nil {
		r.dir.RoomClosed(r.code, r)
	}
	r.cancel()
}

func (r *Room) shutdown() {
	clear(r.members)
	r.order = nil
	r.cancel()
}

func (r *Room) voters() []string {
	return slices.Clone(r.order)
}
