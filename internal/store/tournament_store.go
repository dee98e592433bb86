package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStaleWrite means the tournament changed after it was read; reload and retry.
	ErrStaleWrite = errors.New("tournament was modified concurrently")
	// ErrActiveExists is raised by the single-active index when a second tournament goes active.
	ErrActiveExists = errors.New("another tournament is already active")
)

const (
	selectTournament = `SELECT id, name, status, max_players, start_date, current_round, champion_id,
		ended_at, created_by, version, created_at FROM tournaments`

	insertTournamentQuery = `INSERT INTO tournaments (id, name, status, max_players, start_date, current_round,
		champion_id, ended_at, created_by, version, created_at)
		VALUES (:id, :name, :status, :max_players, :start_date, :current_round,
		:champion_id, :ended_at, :created_by, :version, :created_at)`

	updateTournamentQuery = `UPDATE tournaments SET
		name = :name,
		status = :status,
		max_players = :max_players,
		start_date = :start_date,
		current_round = :current_round,
		champion_id = :champion_id,
		ended_at = :ended_at,
		version = version + 1
		WHERE id = :id AND version = :version`

	upsertMatchQuery = `INSERT INTO matches (id, tournament_id, position, round_number, player_1_id, player_2_id,
		scheduled_time, status, player_1_result, player_2_result, player_1_score, player_2_score,
		player_1_submitted, player_2_submitted, result_score, result_winner_id, result_approved,
		result_submitted_by, winner_id)
		VALUES (:id, :tournament_id, :position, :round_number, :player_1_id, :player_2_id,
		:scheduled_time, :status, :player_1_result, :player_2_result, :player_1_score, :player_2_score,
		:player_1_submitted, :player_2_submitted, :result_score, :result_winner_id, :result_approved,
		:result_submitted_by, :winner_id)
		ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		scheduled_time = excluded.scheduled_time,
		player_1_result = excluded.player_1_result,
		player_2_result = excluded.player_2_result,
		player_1_score = excluded.player_1_score,
		player_2_score = excluded.player_2_score,
		player_1_submitted = excluded.player_1_submitted,
		player_2_submitted = excluded.player_2_submitted,
		result_score = excluded.result_score,
		result_winner_id = excluded.result_winner_id,
		result_approved = excluded.result_approved,
		result_submitted_by = excluded.result_submitted_by,
		winner_id = excluded.winner_id`
)

// matchRow is the flattened storage form of a bracket match.
type matchRow struct {
	bracket.Match
	TournamentID      uuid.UUID      `db:"tournament_id"`
	Position          int            `db:"position"`
	ResultScore       sql.NullString `db:"result_score"`
	ResultWinnerID    *uuid.UUID     `db:"result_winner_id"`
	ResultApproved    sql.NullBool   `db:"result_approved"`
	ResultSubmittedBy *uuid.UUID     `db:"result_submitted_by"`
}

func toMatchRow(tournamentID uuid.UUID, position int, m bracket.Match) matchRow {
	row := matchRow{Match: m, TournamentID: tournamentID, Position: position}
	if m.Result != nil {
		winner := m.Result.WinnerID
		submittedBy := m.Result.SubmittedBy
		row.ResultScore = sql.NullString{String: m.Result.Score, Valid: true}
		row.ResultWinnerID = &winner
		row.ResultApproved = sql.NullBool{Bool: m.Result.Approved, Valid: true}
		row.ResultSubmittedBy = &submittedBy
	}
	return row
}

func (r matchRow) toMatch() bracket.Match {
	m := r.Match
	if r.ResultWinnerID != nil {
		m.Result = &bracket.MatchResult{
			Score:    r.ResultScore.String,
			WinnerID: *r.ResultWinnerID,
			Approved: r.ResultApproved.Bool,
		}
		if r.ResultSubmittedBy != nil {
			m.Result.SubmittedBy = *r.ResultSubmittedBy
		}
	}
	return m
}

type TournamentStore struct {
	db *sqlx.DB
}

func NewTournamentStore(db *sqlx.DB) *TournamentStore {
	return &TournamentStore{db: db}
}

// GetTournament loads a tournament with its players, own join queue and full bracket.
// Pass a transaction as q to read inside it; nil reads through the store's DB.
func (s *TournamentStore) GetTournament(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*bracket.Tournament, error) {
	return s.getOne(ctx, q, selectTournament+" WHERE id = ?", id)
}

func (s *TournamentStore) GetActiveTournament(ctx context.Context, q sqlx.QueryerContext) (*bracket.Tournament, error) {
	return s.getOne(ctx, q, selectTournament+" WHERE status = ?", bracket.TournamentActive)
}

func (s *TournamentStore) GetTournamentByNameAndStatus(ctx context.Context, q sqlx.QueryerContext, name string, status bracket.TournamentStatus) (*bracket.Tournament, error) {
	return s.getOne(ctx, q, selectTournament+" WHERE name = ? AND status = ? ORDER BY created_at DESC LIMIT 1", name, status)
}

// ListTournaments returns tournaments in any of the given statuses, newest first.
func (s *TournamentStore) ListTournaments(ctx context.Context, statuses ...bracket.TournamentStatus) ([]bracket.Tournament, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(selectTournament+" WHERE status IN (?) ORDER BY created_at DESC", statuses)
	if err != nil {
		return nil, err
	}
	return s.getMany(ctx, s.db.Rebind(query), args...)
}

// ListTournamentsForPlayer returns the non-ended tournaments the player is rostered in.
func (s *TournamentStore) ListTournamentsForPlayer(ctx context.Context, playerID uuid.UUID) ([]bracket.Tournament, error) {
	return s.getMany(ctx, selectTournament+`
		WHERE status != ? AND id IN (SELECT tournament_id FROM tournament_players WHERE user_id = ?)
		ORDER BY created_at DESC`, bracket.TournamentEnded, playerID)
}

func (s *TournamentStore) queryer(q sqlx.QueryerContext) sqlx.QueryerContext {
	if q == nil {
		return s.db
	}
	return q
}

func (s *TournamentStore) getOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*bracket.Tournament, error) {
	q = s.queryer(q)

	var tournament bracket.Tournament
	if err := sqlx.GetContext(ctx, q, &tournament, query, args...); err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, q, []*bracket.Tournament{&tournament}); err != nil {
		return nil, err
	}
	return &tournament, nil
}

func (s *TournamentStore) getMany(ctx context.Context, query string, args ...any) ([]bracket.Tournament, error) {
	tournaments := []bracket.Tournament{}
	if err := s.db.SelectContext(ctx, &tournaments, query, args...); err != nil {
		return nil, err
	}
	ptrs := make([]*bracket.Tournament, len(tournaments))
	for i := range tournaments {
		ptrs[i] = &tournaments[i]
	}
	if err := s.loadChildren(ctx, s.db, ptrs); err != nil {
		return nil, err
	}
	return tournaments, nil
}

type playerRow struct {
	TournamentID uuid.UUID `db:"tournament_id"`
	UserID       uuid.UUID `db:"user_id"`
}

type queueRow struct {
	Queue  string    `db:"queue"`
	UserID uuid.UUID `db:"user_id"`
}

// loadChildren fills players, pending players and bracket for every tournament
// with one query each, whatever the number of tournaments.
func (s *TournamentStore) loadChildren(ctx context.Context, q sqlx.QueryerContext, ts []*bracket.Tournament) error {
	if len(ts) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*bracket.Tournament, len(ts))
	byQueue := make(map[string]*bracket.Tournament, len(ts))
	ids := make([]string, len(ts))
	queues := make([]string, len(ts))
	for i, t := range ts {
		t.Players = []uuid.UUID{}
		t.PendingPlayers = []uuid.UUID{}
		t.Bracket = []bracket.Match{}
		byID[t.ID] = t
		ids[i] = t.ID.String()
		queues[i] = bracket.TournamentQueue(t.ID)
		byQueue[queues[i]] = t
	}

	var players []playerRow
	if err := s.selectIn(ctx, q, &players,
		"SELECT tournament_id, user_id FROM tournament_players WHERE tournament_id IN (?) ORDER BY position ASC", ids); err != nil {
		return fmt.Errorf("failed to load players: %w", err)
	}
	for _, p := range players {
		if t, ok := byID[p.TournamentID]; ok {
			t.Players = append(t.Players, p.UserID)
		}
	}

	var pending []queueRow
	if err := s.selectIn(ctx, q, &pending,
		"SELECT queue, user_id FROM join_queue WHERE queue IN (?) ORDER BY requested_at ASC, user_id ASC", queues); err != nil {
		return fmt.Errorf("failed to load pending players: %w", err)
	}
	for _, p := range pending {
		if t, ok := byQueue[p.Queue]; ok {
			t.PendingPlayers = append(t.PendingPlayers, p.UserID)
		}
	}

	var rows []matchRow
	if err := s.selectIn(ctx, q, &rows,
		"SELECT * FROM matches WHERE tournament_id IN (?) ORDER BY position ASC", ids); err != nil {
		return fmt.Errorf("failed to load bracket: %w", err)
	}
	for _, row := range rows {
		if t, ok := byID[row.TournamentID]; ok {
			t.Bracket = append(t.Bracket, row.toMatch())
		}
	}
	return nil
}

func (s *TournamentStore) selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, values []string) error {
	query, args, err := sqlx.In(query, values)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, s.db.Rebind(query), args...)
}

// SaveTournament inserts a new tournament (Version 0) or writes back a loaded one.
// Updates only succeed if the stored version still matches; otherwise ErrStaleWrite.
// Bracket matches are upserted by id and never deleted.
func (s *TournamentStore) SaveTournament(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) error {
	if t.Version == 0 {
		t.Version = 1
		if _, err := tx.NamedExecContext(ctx, insertTournamentQuery, t); err != nil {
			t.Version = 0
			return mapConstraintError(err)
		}
	} else {
		res, err := tx.NamedExecContext(ctx, updateTournamentQuery, t)
		if err != nil {
			return mapConstraintError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrStaleWrite
		}
		t.Version++
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM tournament_players WHERE tournament_id = ?", t.ID); err != nil {
		return fmt.Errorf("failed to clear players: %w", err)
	}
	for i, playerID := range t.Players {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tournament_players (tournament_id, user_id, position) VALUES (?, ?, ?)",
			t.ID, playerID, i); err != nil {
			return fmt.Errorf("failed to insert player: %w", err)
		}
	}

	for i, m := range t.Bracket {
		if _, err := tx.NamedExecContext(ctx, upsertMatchQuery, toMatchRow(t.ID, i, m)); err != nil {
			return fmt.Errorf("failed to save match %s: %w", m.ID, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// singleActiveColumn is what SQLite names when tournaments_single_active_idx rejects a write.
const singleActiveColumn = "tournaments.status"

func mapConstraintError(err error) error {
	if isUniqueViolation(err) && strings.Contains(err.Error(), singleActiveColumn) {
		return ErrActiveExists
	}
	return err
}
