package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type MatchService struct {
	tournamentTx
	users  UserFinder
	logger *slog.Logger
}

func NewMatchService(db *sqlx.DB, tournaments *store.TournamentStore, users UserFinder, logger *slog.Logger) *MatchService {
	return &MatchService{
		tournamentTx: tournamentTx{db: db, store: tournaments},
		users:        users,
		logger:       logger,
	}
}

type SubmitInput struct {
	MatchID uuid.UUID
	Outcome bracket.Outcome
	Score   string
}

type SubmitResult struct {
	Match        bracket.Match
	AutoApproved bool
}

// SubmitResult records the caller's own report for a match. When both reports agree the match completes.
func (s *MatchService) SubmitResult(ctx context.Context, caller users.Caller, tournamentID uuid.UUID, in SubmitInput) (*SubmitResult, error) {
	if !in.Outcome.Valid() {
		return nil, validationError("result must be %q or %q", bracket.OutcomeWin, bracket.OutcomeLose)
	}
	score := strings.TrimSpace(in.Score)

	var res SubmitResult
	_, err := s.update(ctx, tournamentID, func(_ *sqlx.Tx, t *bracket.Tournament) error {
		m, ok := t.Match(in.MatchID)
		if !ok {
			return ErrMatchNotFound
		}
		slot, ok := m.SlotOf(caller.ID)
		if !ok {
			return ErrNotParticipant
		}
		if t.Status != bracket.TournamentActive {
			return ErrNotActive
		}
		if m.Status == bracket.MatchCompleted {
			return ErrMatchCompleted
		}

		m.Report(slot, in.Outcome, score)
		res.AutoApproved = m.Reconcile(caller.ID, score)
		res.Match = *m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.AutoApproved {
		s.logger.Info("match completed by agreement", "tournament_id", tournamentID, "match_id", in.MatchID, "winner", res.Match.WinnerID)
	}
	return &res, nil
}

type PlayerInfo struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
}

type ConflictingMatch struct {
	TournamentID   uuid.UUID       `json:"tournamentId"`
	TournamentName string          `json:"tournamentName"`
	MatchID        uuid.UUID       `json:"matchId"`
	Round          int             `json:"round"`
	Player1        PlayerInfo      `json:"player1"`
	Player2        PlayerInfo      `json:"player2"`
	Player1Result  bracket.Outcome `json:"player1Result"`
	Player2Result  bracket.Outcome `json:"player2Result"`
	Player1Score   string          `json:"player1Score"`
	Player2Score   string          `json:"player2Score"`
}

// ListConflicting returns matches where both players claimed the same outcome.
// With a nil tournamentID the active tournament is searched.
func (s *MatchService) ListConflicting(ctx context.Context, caller users.Caller, tournamentID *uuid.UUID) ([]ConflictingMatch, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}

	var (
		t   *bracket.Tournament
		err error
	)
	if tournamentID != nil {
		t, err = s.store.GetTournament(ctx, nil, *tournamentID)
	} else {
		t, err = s.store.GetActiveTournament(ctx, nil)
		if errors.Is(err, sql.ErrNoRows) {
			return []ConflictingMatch{}, nil
		}
	}
	if err != nil {
		return nil, mapStoreError(err)
	}

	conflicts := []ConflictingMatch{}
	for _, m := range t.Bracket {
		if !m.Conflicting() {
			continue
		}
		conflicts = append(conflicts, ConflictingMatch{
			TournamentID:   t.ID,
			TournamentName: t.Name,
			MatchID:        m.ID,
			Round:          m.Round,
			Player1:        s.playerInfo(ctx, m.Player1ID),
			Player2:        s.playerInfo(ctx, m.Player2ID),
			Player1Result:  m.Player1Result,
			Player2Result:  m.Player2Result,
			Player1Score:   m.Player1Score,
			Player2Score:   m.Player2Score,
		})
	}
	return conflicts, nil
}

func (s *MatchService) playerInfo(ctx context.Context, id uuid.UUID) PlayerInfo {
	info := PlayerInfo{ID: id}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to look up player", "user_id", id, "error", err)
		}
		return info
	}
	info.Username = u.Username
	info.Email = u.Email
	return info
}

// ApproveResult lets an admin settle a match, overriding whatever the players reported.
func (s *MatchService) ApproveResult(ctx context.Context, caller users.Caller, tournamentID, matchID, winnerID uuid.UUID) (*bracket.Match, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if winnerID == uuid.Nil {
		return nil, validationError("winner is required")
	}

	var approved bracket.Match
	_, err := s.update(ctx, tournamentID, func(_ *sqlx.Tx, t *bracket.Tournament) error {
		m, ok := t.Match(matchID)
		if !ok {
			return ErrMatchNotFound
		}
		if t.Status != bracket.TournamentActive {
			return ErrNotActive
		}
		if err := m.Approve(winnerID, caller.ID); err != nil {
			return validationError("winner is not part of this match")
		}
		approved = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("match result approved", "tournament_id", tournamentID, "match_id", matchID, "winner", winnerID, "admin", caller.ID)
	return &approved, nil
}
