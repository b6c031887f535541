package engine

import (
	"fmt"
	"math/rand/v2"
)

// BuildRound shuffles ids and pairs them up. An odd count is padded with one
// Bye, and that match is decided on the spot for its real participant.
func BuildRound(ids []string, round int, rng *rand.Rand) []*Match {
	list := make([]string, len(ids), len(ids)+1)
	copy(list, ids)
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	if len(list)%2 == 1 {
		list = append(list, Bye)
	}

	matches := make([]*Match, 0, len(list)/2)
	for i := 0; i < len(list); i += 2 {
		m := &Match{
			ID:    fmt.Sprintf("R%d-M%d", round, i/2+1),
			A:     list[i],
			B:     list[i+1],
			Votes: map[string]Pick{},
		}
		if m.IsBye() {
			m.Winner = m.A
			m.Note = "bye"
		}
		matches = append(matches, m)
	}
	return matches
}

// AdvanceCursor skips matches that are already decided, so the cursor never
// rests on a bye.
func AdvanceCursor(t *Tournament) {
	if t == nil {
		return
	}
	for t.Cursor < len(t.Matches) && t.Matches[t.Cursor].Decided() {
		t.Cursor++
	}
}

// CastVote records voter's pick, replacing any earlier pick for the same match.
func CastVote(m *Match, voter string, pick Pick, members []string) error {
	if m.Decided() {
		return ErrMatchDecided
	}
	if !contains(members, voter) {
		return ErrNotMember
	}
	if !pick.Valid() {
		return ErrInvalidPick
	}
	m.Votes[voter] = pick
	return nil
}

// AllVoted reports whether every present member has a pick on m.
func AllVoted(m *Match, members []string) bool {
	if len(members) == 0 {
		return false
	}
	for _, id := range members {
		if !m.Votes[id].Valid() {
			return false
		}
	}
	return true
}

// Decide sets m's winner by majority. A tie is settled by a coin flip and
// reported through the returned flag.
func Decide(m *Match, rng *rand.Rand) bool {
	var a, b int
	for _, p := range m.Votes {
		switch p {
		case PickA:
			a++
		case PickB:
			b++
		}
	}
	m.Note = fmt.Sprintf("votes A:%d / B:%d", a, b)

	switch {
	case a > b:
		m.Winner = m.A
		return false
	case b > a:
		m.Winner = m.B
		return false
	}

	face := "tails"
	m.Winner = m.B
	if rng.IntN(2) == 0 {
		face = "heads"
		m.Winner = m.A
	}
	m.Note += " | tie -> " + face
	return true
}

func tieFlash(s State, m *Match, env Env) *Flash {
	face := "tails"
	if m.Winner == m.A {
		face = "heads"
	}
	name := "?"
	if c, ok := s.Candidate(m.Winner); ok {
		name = c.Name
	}
	return &Flash{
		ID:   env.NewID(),
		Text: fmt.Sprintf("Tie, coin flip: %s. Winner is %s", face, name),
		At:   env.Now(),
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
