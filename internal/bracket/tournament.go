package bracket

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentPending TournamentStatus = "pending"
	TournamentActive  TournamentStatus = "active"
	TournamentEnded   TournamentStatus = "ended"
)

// Allowed roster sizes. Each round halves the field, so only powers of two work.
var allowedMaxPlayers = []int{2, 4, 8}

func ValidMaxPlayers(n int) bool {
	return slices.Contains(allowedMaxPlayers, n)
}

type Tournament struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	Status       TournamentStatus `db:"status" json:"status"`
	MaxPlayers   int              `db:"max_players" json:"maxPlayers"`
	StartDate    time.Time        `db:"start_date" json:"startDate"`
	CurrentRound int              `db:"current_round" json:"currentRound"`
	ChampionID   *uuid.UUID       `db:"champion_id" json:"champion,omitempty"`
	EndedAt      *time.Time       `db:"ended_at" json:"endedAt,omitempty"`
	CreatedBy    uuid.UUID        `db:"created_by" json:"createdBy"`
	Version      int              `db:"version" json:"-"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`

	Players        []uuid.UUID `db:"-" json:"players"`
	PendingPlayers []uuid.UUID `db:"-" json:"pendingPlayers"`
	// Append-only across rounds. Matches are addressed by ID through Match.
	Bracket []Match `db:"-" json:"bracket"`
}

func (t *Tournament) HasPlayer(id uuid.UUID) bool {
	return slices.Contains(t.Players, id)
}

func (t *Tournament) IsFull() bool {
	return len(t.Players) >= t.MaxPlayers
}

// Match returns a pointer into the bracket so callers can mutate it in place.
func (t *Tournament) Match(id uuid.UUID) (*Match, bool) {
	for i := range t.Bracket {
		if t.Bracket[i].ID == id {
			return &t.Bracket[i], true
		}
	}
	return nil, false
}

func (t *Tournament) MatchesInRound(round int) []*Match {
	var matches []*Match
	for i := range t.Bracket {
		if t.Bracket[i].Round == round {
			matches = append(matches, &t.Bracket[i])
		}
	}
	return matches
}

func (t *Tournament) CurrentMatches() []*Match {
	return t.MatchesInRound(t.CurrentRound)
}

// RoundComplete reports whether every match of the current round is completed.
// A round with no matches is never complete.
func (t *Tournament) RoundComplete() bool {
	matches := t.CurrentMatches()
	if len(matches) == 0 {
		return false
	}
	for _, m := range matches {
		if m.Status != MatchCompleted {
			return false
		}
	}
	return true
}

// RoundWinners lists the winners of completed matches in the current round, in bracket order.
func (t *Tournament) RoundWinners() []uuid.UUID {
	var winners []uuid.UUID
	for _, m := range t.CurrentMatches() {
		if m.Status == MatchCompleted && m.WinnerID != nil {
			winners = append(winners, *m.WinnerID)
		}
	}
	return winners
}

// Start moves a pending tournament into its first round.
func (t *Tournament) Start(round []Match) {
	t.Bracket = append(t.Bracket, round...)
	t.Status = TournamentActive
	t.CurrentRound = 1
}

// NextRound appends the matches of the following round.
func (t *Tournament) NextRound(round []Match) {
	t.Bracket = append(t.Bracket, round...)
	t.CurrentRound++
}

func (t *Tournament) End(now time.Time, champion *uuid.UUID) {
	t.Status = TournamentEnded
	t.EndedAt = &now
	t.ChampionID = champion
}
