package engine

import (
	"slices"
	"time"

	"github.com/DoyleJ11/gamenight-bracket/internal/fault"
)

var ErrNoOpenMatch = fault.New(fault.Validation, "no match is open for voting")
var ErrMatchDecided = fault.New(fault.Validation, "match already decided")
var ErrNotMember = fault.New(fault.Authorization, "only room members can vote")
var ErrInvalidPick = fault.New(fault.Validation, "pick must be A or B")
var ErrInvalidTarget = fault.New(fault.Validation, "target winner count must be positive")
var ErrUnsupportedCommand = fault.New(fault.Validation, "unsupported command")

// DefaultTarget is the winner count used when none (or a non-positive one) is given.
const DefaultTarget = 5

// Bye fills slot B of the single padded match in an odd-sized round.
const Bye = "BYE"

type Pick string

const (
	PickA Pick = "A"
	PickB Pick = "B"
)

func (p Pick) Valid() bool { return p == PickA || p == PickB }

type Candidate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	NormalPrice *float64 `json:"normalPrice"`
	SalePrice   *float64 `json:"salePrice"`
	ImageURL    string   `json:"imageUrl"`
}

type Match struct {
	ID     string
	A      string
	B      string
	Votes  map[string]Pick // voter id -> pick
	Winner string
	Note   string
}

func (m *Match) Decided() bool { return m.Winner != "" }

func (m *Match) IsBye() bool { return m.B == Bye }

type Tournament struct {
	Round   int
	Matches []*Match
	Cursor  int // next undecided match
}

// Current returns the match open for voting, or nil once the cursor ran off the round.
func (t *Tournament) Current() *Match {
	if t == nil || t.Cursor >= len(t.Matches) {
		return nil
	}
	return t.Matches[t.Cursor]
}

func (t *Tournament) RoundDone() bool {
	for _, m := range t.Matches {
		if !m.Decided() {
			return false
		}
	}
	return true
}

func (t *Tournament) Winners() []string {
	out := make([]string, 0, len(t.Matches))
	for _, m := range t.Matches {
		if m.Winner != "" && m.Winner != Bye {
			out = append(out, m.Winner)
		}
	}
	return out
}

type Flash struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"ts"`
}

type State struct {
	Target     int
	Pool       []Candidate // not yet selected
	Selected   []Candidate // winners, in the order they were crowned
	Tournament *Tournament // nil between tournaments and once done
	Flash      *Flash
}

type CommandType string

const (
	CmdLoadPool CommandType = "LoadPool"
	CmdVote     CommandType = "Vote"
	CmdSettle   CommandType = "Settle"
)

/*
	CmdLoadPool -> EvtPoolLoaded -> EvtTournamentStarted (pool >= 2)
	CmdVote     -> EvtVoteCast -> [EvtMatchDecided -> EvtCoinFlipped?] -> EvtRoundAdvanced
	               or EvtChampionCrowned -> EvtTournamentStarted | EvtSelectionComplete
	CmdSettle   -> same chain as a vote minus EvtVoteCast; sent after a member leaves
	               because the remaining members may all have voted already.
*/

type Command struct {
	Type   CommandType
	Voter  string
	Pick   Pick
	Voters []string // members present when the command is applied
	Pool   []Candidate
	Target int
}

type EventType string

const (
	EvtPoolLoaded        EventType = "PoolLoaded"
	EvtTournamentStarted EventType = "TournamentStarted"
	EvtVoteCast          EventType = "VoteCast"
	EvtMatchDecided      EventType = "MatchDecided"
	EvtCoinFlipped       EventType = "CoinFlipped"
	EvtRoundAdvanced     EventType = "RoundAdvanced"
	EvtChampionCrowned   EventType = "ChampionCrowned"
	EvtSelectionComplete EventType = "SelectionComplete"
)

type Event struct {
	Type        EventType
	MatchID     string
	CandidateID string
	Round       int
}

// Apply validates cmd against s and returns the resulting state. On error s is
// returned untouched.
func Apply(s State, cmd Command, env Env) ([]Event, State, error) {
	switch cmd.Type {
	case CmdLoadPool:
		if cmd.Target <= 0 {
			return nil, s, ErrInvalidTarget
		}
		newState := State{
			Target:   cmd.Target,
			Pool:     slices.Clone(cmd.Pool),
			Selected: []Candidate{},
		}
		events := []Event{{Type: EvtPoolLoaded}}
		events = append(events, startTournament(&newState, env)...)
		return events, newState, nil

	case CmdVote:
		m := s.Tournament.Current()
		if m == nil {
			return nil, s, ErrNoOpenMatch
		}
		if err := CastVote(m, cmd.Voter, cmd.Pick, cmd.Voters); err != nil {
			return nil, s, err
		}

		newState := s
		events := []Event{{Type: EvtVoteCast, MatchID: m.ID}}
		events = append(events, settle(&newState, cmd.Voters, env)...)
		return events, newState, nil

	case CmdSettle:
		newState := s
		return settle(&newState, cmd.Voters, env), newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// settle resolves the open match once every present member has voted, then
// walks the bracket forward.
func settle(s *State, voters []string, env Env) []Event {
	t := s.Tournament
	m := t.Current()
	if m == nil || m.Decided() || !AllVoted(m, voters) {
		return nil
	}

	tie := Decide(m, env.Rand)
	events := []Event{{Type: EvtMatchDecided, MatchID: m.ID, CandidateID: m.Winner}}
	if tie {
		s.Flash = tieFlash(*s, m, env)
		events = append(events, Event{Type: EvtCoinFlipped, MatchID: m.ID, CandidateID: m.Winner})
	}

	t.Cursor++
	AdvanceCursor(t)
	return append(events, finishRoundIfDone(s, env)...)
}

func finishRoundIfDone(s *State, env Env) []Event {
	t := s.Tournament
	if t == nil || !t.RoundDone() {
		return nil
	}

	winners := t.Winners()
	if len(winners) == 1 {
		events := crown(s, winners[0])
		s.Tournament = nil
		if len(s.Selected) < s.Target && len(s.Pool) >= 2 {
			return append(events, startTournament(s, env)...)
		}
		return append(events, Event{Type: EvtSelectionComplete})
	}

	t.Round++
	t.Matches = BuildRound(winners, t.Round, env.Rand)
	t.Cursor = 0
	AdvanceCursor(t)
	return []Event{{Type: EvtRoundAdvanced, Round: t.Round}}
}

func crown(s *State, id string) []Event {
	if slices.ContainsFunc(s.Selected, func(c Candidate) bool { return c.ID == id }) {
		return nil
	}
	i := slices.IndexFunc(s.Pool, func(c Candidate) bool { return c.ID == id })
	if i < 0 {
		return nil
	}

	s.Selected = append(s.Selected, s.Pool[i])
	s.Pool = slices.Delete(slices.Clone(s.Pool), i, i+1)
	return []Event{{Type: EvtChampionCrowned, CandidateID: id}}
}

func startTournament(s *State, env Env) []Event {
	if len(s.Pool) < 2 {
		s.Tournament = nil
		return nil
	}

	ids := make([]string, len(s.Pool))
	for i, c := range s.Pool {
		ids[i] = c.ID
	}
	t := &Tournament{Round: 1, Matches: BuildRound(ids, 1, env.Rand)}
	AdvanceCursor(t)
	s.Tournament = t
	return []Event{{Type: EvtTournamentStarted, Round: 1}}
}
