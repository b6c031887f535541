package room

import (
	"time"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

type MemberView struct {
	Name string `json:"name"`
}

// VoteStatus only says whether a member voted, never what they picked.
type VoteStatus struct {
	Name  string `json:"name"`
	Voted bool   `json:"voted"`
}

type MatchView struct {
	ID   string `json:"id"`
	Note string `json:"note"`
}

type TournamentView struct {
	Round        int               `json:"round"`
	MatchNumber  int               `json:"matchNumber"`
	MatchTotal   int               `json:"matchTotal"`
	CurrentMatch *MatchView        `json:"currentMatch"`
	CurrentA     *engine.Candidate `json:"currentA"`
	CurrentB     *engine.Candidate `json:"currentB"`
	VoteStatus   []VoteStatus      `json:"voteStatus"`
	VotesCast    int               `json:"votesCast"`
}

// View is what one member sees of the room.
type View struct {
	Version       int                `json:"version"`
	Code          string             `json:"code"`
	Name          string             `json:"name"`
	Locked        bool               `json:"locked"`
	AdminID       string             `json:"adminId"`
	You           string             `json:"you"`
	IsAdmin       bool               `json:"isAdmin"`
	Members       []MemberView       `json:"players"`
	TargetWinners int                `json:"targetWinners"`
	SelectedCount int                `json:"selectedCount"`
	PoolCount     int                `json:"poolCount"`
	Selected      []engine.Candidate `json:"selected"`
	Flash         *engine.Flash      `json:"flash"`
	Tournament    *TournamentView    `json:"tournament"`
	Done          bool               `json:"done"`
}

// Summary is the room's entry in the public directory.
type Summary struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Locked      bool      `json:"locked"`
	Players     []string  `json:"players"`
	PlayerCount int       `json:"playerCount"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedAgo  string    `json:"createdAgo,omitempty"`
}

func (r *Room) project(recipient string, now time.Time) View {
	s := r.state
	v := View{
		Version:       r.version,
		Code:          r.code,
		Name:          r.name,
		Locked:        r.secret != nil,
		AdminID:       r.admin,
		You:           recipient,
		IsAdmin:       recipient != "" && recipient == r.admin,
		Members:       make([]MemberView, 0, len(r.order)),
		TargetWinners: s.Target,
		SelectedCount: len(s.Selected),
		PoolCount:     len(s.Pool),
		Selected:      append([]engine.Candidate{}, s.Selected...),
		Done:          s.Done(),
	}
	for _, id := range r.order {
		v.Members = append(v.Members, MemberView{Name: r.members[id].Name})
	}

	if s.Flash != nil && now.Sub(s.Flash.At) < r.flashWindow {
		f := *s.Flash
		v.Flash = &f
	}

	if t := s.Tournament; t != nil {
		tv := &TournamentView{
			Round:       t.Round,
			MatchNumber: min(t.Cursor+1, len(t.Matches)),
			MatchTotal:  len(t.Matches),
			VoteStatus:  []VoteStatus{},
		}
		if m := t.Current(); m != nil && !m.Decided() {
			tv.CurrentMatch = &MatchView{ID: m.ID, Note: m.Note}
			if c, ok := s.Candidate(m.A); ok {
				tv.CurrentA = &c
			}
			if c, ok := s.Candidate(m.B); ok {
				tv.CurrentB = &c
			}
			for _, id := range r.order {
				voted := m.Votes[id].Valid()
				if voted {
					tv.VotesCast++
				}
				tv.VoteStatus = append(tv.VoteStatus, VoteStatus{Name: r.members[id].Name, Voted: voted})
			}
		}
		v.Tournament = tv
	}
	return v
}

func (r *Room) summary() Summary {
	players := make([]string, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, r.members[id].Name)
	}
	return Summary{
		Code:        r.code,
		Name:        r.name,
		Locked:      r.secret != nil,
		Players:     players,
		PlayerCount: len(players),
		CreatedAt:   r.createdAt,
	}
}
