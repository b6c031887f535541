package engine

import (
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/gamenight-bracket/internal/ids"
)

// Env carries the sources of randomness, time and ids a room applies commands
// with. A room owns its Env and only touches it from its own goroutine.
type Env struct {
	Rand  *rand.Rand
	Now   func() time.Time
	NewID func() string
}

func NewEnv() Env {
	return Env{
		Rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		Now:   time.Now,
		NewID: ids.Short,
	}
}

// SeededEnv is NewEnv with a fixed seed, for reproducible brackets and coin flips.
func SeededEnv(seed uint64) Env {
	env := NewEnv()
	env.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return env
}

func NewEmptyState(target int) State {
	if target <= 0 {
		target = DefaultTarget
	}
	return State{Target: target, Pool: []Candidate{}, Selected: []Candidate{}}
}

// Done is true once enough winners were picked or too few candidates remain.
func (s State) Done() bool {
	return len(s.Selected) >= s.Target || len(s.Pool) < 2
}

func (s State) Candidate(id string) (Candidate, bool) {
	for _, c := range s.Pool {
		if c.ID == id {
			return c, true
		}
	}
	for _, c := range s.Selected {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
