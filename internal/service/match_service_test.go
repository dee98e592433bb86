package service

import (
	"context"
	"testing"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitResult_AgreementCompletesMatch(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]

	res := f.submit(t, tour.ID, m.ID, m.Player2ID, bracket.OutcomeWin, "3-1")
	assert.False(t, res.AutoApproved)
	assert.Equal(t, bracket.MatchPending, res.Match.Status)
	assert.True(t, res.Match.Player2Submitted)
	assert.False(t, res.Match.Player1Submitted)

	res = f.submit(t, tour.ID, m.ID, m.Player1ID, bracket.OutcomeLose, "3-1")
	assert.True(t, res.AutoApproved)

	stored, ok := f.reload(t, tour.ID).Match(m.ID)
	require.True(t, ok)
	assert.Equal(t, bracket.MatchCompleted, stored.Status)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, m.Player2ID, *stored.WinnerID)
	require.NotNil(t, stored.Result)
	assert.Equal(t, m.Player2ID, stored.Result.WinnerID)
	assert.Equal(t, "3-1", stored.Result.Score)
	assert.True(t, stored.Result.Approved)
	assert.Equal(t, m.Player1ID, stored.Result.SubmittedBy)
}

func TestSubmitResult_ResubmissionReplacesEarlierReport(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]

	f.submit(t, tour.ID, m.ID, m.Player1ID, bracket.OutcomeWin, "2-0")
	res := f.submit(t, tour.ID, m.ID, m.Player1ID, bracket.OutcomeLose, "0-2")
	assert.Equal(t, bracket.OutcomeLose, res.Match.Player1Result)
	assert.Equal(t, "0-2", res.Match.Player1Score)

	res = f.submit(t, tour.ID, m.ID, m.Player2ID, bracket.OutcomeWin, "0-2")
	assert.True(t, res.AutoApproved)
	assert.Equal(t, m.Player2ID, *res.Match.WinnerID)
}

func TestSubmitResult_Rejected(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]
	outsider := f.players(t, 1)[0]

	tests := []struct {
		name         string
		playerID     uuid.UUID
		tournamentID uuid.UUID
		input        SubmitInput
		wantErr      error
	}{
		{"unknown tournament", m.Player1ID, uuid.New(), SubmitInput{MatchID: m.ID, Outcome: bracket.OutcomeWin}, ErrTournamentNotFound},
		{"unknown match", m.Player1ID, tour.ID, SubmitInput{MatchID: uuid.New(), Outcome: bracket.OutcomeWin}, ErrMatchNotFound},
		{"not a participant", outsider.ID, tour.ID, SubmitInput{MatchID: m.ID, Outcome: bracket.OutcomeWin}, ErrForbidden},
		{"unknown outcome", m.Player1ID, tour.ID, SubmitInput{MatchID: m.ID, Outcome: "draw"}, ErrValidation},
		{"empty outcome", m.Player1ID, tour.ID, SubmitInput{MatchID: m.ID}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.matches.SubmitResult(ctx, playerCaller(tt.playerID), tt.tournamentID, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, _ := f.reload(t, tour.ID).Match(m.ID)
	assert.False(t, stored.Player1Submitted)
	assert.False(t, stored.Player2Submitted)
}

func TestSubmitResult_CompletedMatchIsFinal(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]
	f.completeRound(t, tour)

	_, err := f.matches.SubmitResult(ctx, playerCaller(m.Player2ID), tour.ID, SubmitInput{MatchID: m.ID, Outcome: bracket.OutcomeWin})
	assert.ErrorIs(t, err, ErrMatchCompleted)

	stored, _ := f.reload(t, tour.ID).Match(m.ID)
	assert.Equal(t, m.Player1ID, *stored.WinnerID)
}

func TestSubmitResult_EndedTournament(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]

	_, err := f.tournaments.EndTournament(ctx, f.admin, tour.ID)
	require.NoError(t, err)

	_, err = f.matches.SubmitResult(ctx, playerCaller(m.Player1ID), tour.ID, SubmitInput{MatchID: m.ID, Outcome: bracket.OutcomeWin})
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestConflictingReports(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, players := f.startTournament(t, 4)
	conflicted := tour.Bracket[0]
	agreed := tour.Bracket[1]

	f.submit(t, tour.ID, conflicted.ID, conflicted.Player1ID, bracket.OutcomeWin, "2-1")
	res := f.submit(t, tour.ID, conflicted.ID, conflicted.Player2ID, bracket.OutcomeWin, "1-2")
	assert.False(t, res.AutoApproved)
	assert.Equal(t, bracket.MatchPending, res.Match.Status)

	f.submit(t, tour.ID, agreed.ID, agreed.Player1ID, bracket.OutcomeLose, "0-2")
	f.submit(t, tour.ID, agreed.ID, agreed.Player2ID, bracket.OutcomeWin, "0-2")

	_, err := f.matches.ListConflicting(ctx, players[0], nil)
	assert.ErrorIs(t, err, ErrForbidden)

	for _, scope := range []*uuid.UUID{nil, &tour.ID} {
		conflicts, err := f.matches.ListConflicting(ctx, f.admin, scope)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)

		c := conflicts[0]
		assert.Equal(t, tour.ID, c.TournamentID)
		assert.Equal(t, "Spring Cup", c.TournamentName)
		assert.Equal(t, conflicted.ID, c.MatchID)
		assert.Equal(t, 1, c.Round)
		assert.Equal(t, conflicted.Player1ID, c.Player1.ID)
		assert.Contains(t, c.Player1.Email, "@example.com")
		assert.NotEmpty(t, c.Player2.Username)
		assert.Equal(t, bracket.OutcomeWin, c.Player1Result)
		assert.Equal(t, bracket.OutcomeWin, c.Player2Result)
		assert.Equal(t, "2-1", c.Player1Score)
		assert.Equal(t, "1-2", c.Player2Score)
	}

	done, err := f.tournaments.RoundComplete(ctx, tour.ID)
	require.NoError(t, err)
	assert.False(t, done, "a disputed match blocks the round")

	approved, err := f.matches.ApproveResult(ctx, f.admin, tour.ID, conflicted.ID, conflicted.Player2ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchCompleted, approved.Status)
	assert.Equal(t, conflicted.Player2ID, approved.Result.WinnerID)
	assert.Equal(t, "1-2", approved.Result.Score)
	assert.Equal(t, f.admin.ID, approved.Result.SubmittedBy)

	conflicts, err := f.matches.ListConflicting(ctx, f.admin, nil)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	done, err = f.tournaments.RoundComplete(ctx, tour.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestListConflicting_NoActiveTournament(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()

	conflicts, err := f.matches.ListConflicting(ctx, f.admin, nil)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	missing := uuid.New()
	_, err = f.matches.ListConflicting(ctx, f.admin, &missing)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestApproveResult_OverridesAgreedResult(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]
	f.completeRound(t, tour)

	approved, err := f.matches.ApproveResult(ctx, f.admin, tour.ID, m.ID, m.Player2ID)
	require.NoError(t, err)
	assert.Equal(t, m.Player2ID, *approved.WinnerID)
	assert.Equal(t, "2-0", approved.Result.Score, "score carries over from the earlier result")
	assert.Equal(t, f.admin.ID, approved.Result.SubmittedBy)

	stored, _ := f.reload(t, tour.ID).Match(m.ID)
	assert.Equal(t, m.Player2ID, *stored.WinnerID)
	assert.Equal(t, bracket.MatchCompleted, stored.Status)
}

func TestApproveResult_Rejected(t *testing.T) {
	f := newFixture(t, AdmitFromPendingRequests)
	ctx := context.Background()
	tour, _ := f.startTournament(t, 2)
	m := tour.Bracket[0]

	tests := []struct {
		name     string
		matchID  uuid.UUID
		winnerID uuid.UUID
		asPlayer bool
		wantErr  error
	}{
		{name: "player cannot approve", matchID: m.ID, winnerID: m.Player1ID, asPlayer: true, wantErr: ErrForbidden},
		{name: "missing winner", matchID: m.ID, winnerID: uuid.Nil, wantErr: ErrValidation},
		{name: "winner not in match", matchID: m.ID, winnerID: uuid.New(), wantErr: ErrValidation},
		{name: "unknown match", matchID: uuid.New(), winnerID: m.Player1ID, wantErr: ErrMatchNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := f.admin
			if tt.asPlayer {
				caller = playerCaller(m.Player1ID)
			}
			_, err := f.matches.ApproveResult(ctx, caller, tour.ID, tt.matchID, tt.winnerID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, _ := f.reload(t, tour.ID).Match(m.ID)
	assert.Equal(t, bracket.MatchPending, stored.Status)
}
