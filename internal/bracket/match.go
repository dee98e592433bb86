package bracket

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchCompleted MatchStatus = "completed"
)

type Outcome string

const (
	OutcomeUnset Outcome = ""
	OutcomeWin   Outcome = "win"
	OutcomeLose  Outcome = "lose"
)

func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLose
}

// Slot is the side of a match a player occupies.
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

var ErrNotParticipant = errors.New("player is not part of this match")

type MatchResult struct {
	Score       string    `json:"score"`
	WinnerID    uuid.UUID `json:"winner"`
	Approved    bool      `json:"approved"`
	SubmittedBy uuid.UUID `json:"submittedBy"`
}

type Match struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	Round         int         `db:"round_number" json:"round"`
	Player1ID     uuid.UUID   `db:"player_1_id" json:"player1"`
	Player2ID     uuid.UUID   `db:"player_2_id" json:"player2"`
	ScheduledTime time.Time   `db:"scheduled_time" json:"scheduledTime"`
	Status        MatchStatus `db:"status" json:"status"`

	Player1Result    Outcome `db:"player_1_result" json:"player1Result,omitempty"`
	Player2Result    Outcome `db:"player_2_result" json:"player2Result,omitempty"`
	Player1Score     string  `db:"player_1_score" json:"player1Score,omitempty"`
	Player2Score     string  `db:"player_2_score" json:"player2Score,omitempty"`
	Player1Submitted bool    `db:"player_1_submitted" json:"player1Submitted"`
	Player2Submitted bool    `db:"player_2_submitted" json:"player2Submitted"`

	Result   *MatchResult `db:"-" json:"result,omitempty"`
	WinnerID *uuid.UUID   `db:"winner_id" json:"winner,omitempty"`
}

func NewMatch(round int, player1, player2 uuid.UUID, scheduled time.Time) Match {
	return Match{
		ID:            uuid.New(),
		Round:         round,
		Player1ID:     player1,
		Player2ID:     player2,
		ScheduledTime: scheduled,
		Status:        MatchPending,
	}
}

func (m *Match) SlotOf(playerID uuid.UUID) (Slot, bool) {
	switch playerID {
	case m.Player1ID:
		return Slot1, true
	case m.Player2ID:
		return Slot2, true
	}
	return 0, false
}

func (m *Match) Player(slot Slot) uuid.UUID {
	if slot == Slot1 {
		return m.Player1ID
	}
	return m.Player2ID
}

// Report records one side's self-reported outcome, replacing any earlier report from that side.
func (m *Match) Report(slot Slot, outcome Outcome, score string) {
	if slot == Slot1 {
		m.Player1Result = outcome
		m.Player1Score = score
		m.Player1Submitted = true
		return
	}
	m.Player2Result = outcome
	m.Player2Score = score
	m.Player2Submitted = true
}

func (m *Match) BothSubmitted() bool {
	return m.Player1Submitted && m.Player2Submitted
}

// Agreed is true when both sides reported and exactly one of them claims the win.
func (m *Match) Agreed() bool {
	if !m.BothSubmitted() {
		return false
	}
	return (m.Player1Result == OutcomeWin && m.Player2Result == OutcomeLose) ||
		(m.Player1Result == OutcomeLose && m.Player2Result == OutcomeWin)
}

// Conflicting is true for pending matches where both sides reported the same outcome.
func (m *Match) Conflicting() bool {
	return m.Status == MatchPending && m.BothSubmitted() && !m.Agreed()
}

// Reconcile completes the match when the self-reports agree. It returns whether the match was completed.
func (m *Match) Reconcile(submittedBy uuid.UUID, score string) bool {
	if m.Status == MatchCompleted || !m.Agreed() {
		return false
	}
	winner := m.Player1ID
	if m.Player2Result == OutcomeWin {
		winner = m.Player2ID
	}
	m.complete(winner, score, submittedBy)
	return true
}

// Approve forces completion with the given winner, overriding any earlier result.
func (m *Match) Approve(winnerID, approvedBy uuid.UUID) error {
	slot, ok := m.SlotOf(winnerID)
	if !ok {
		return ErrNotParticipant
	}
	score := ""
	switch {
	case m.Result != nil:
		score = m.Result.Score
	case slot == Slot1 && m.Player1Score != "":
		score = m.Player1Score
	case slot == Slot2 && m.Player2Score != "":
		score = m.Player2Score
	}
	m.complete(winnerID, score, approvedBy)
	return nil
}

func (m *Match) complete(winner uuid.UUID, score string, submittedBy uuid.UUID) {
	m.Status = MatchCompleted
	m.WinnerID = &winner
	m.Result = &MatchResult{
		Score:       score,
		WinnerID:    winner,
		Approved:    true,
		SubmittedBy: submittedBy,
	}
}
