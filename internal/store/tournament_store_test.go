package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	driver, err := migratesqlite.WithInstance(database.DB, &migratesqlite.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "sqlite3", driver)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

var testStart = time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

func newTournament(name string, status bracket.TournamentStatus) *bracket.Tournament {
	return &bracket.Tournament{
		ID:         uuid.New(),
		Name:       name,
		Status:     status,
		MaxPlayers: 4,
		StartDate:  testStart,
		CreatedBy:  uuid.New(),
		CreatedAt:  testStart.Add(-time.Hour),
	}
}

func save(t *testing.T, db *sqlx.DB, s *TournamentStore, tour *bracket.Tournament) error {
	t.Helper()
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()

	if err := s.SaveTournament(context.Background(), tx, tour); err != nil {
		return err
	}
	return tx.Commit()
}

func TestSaveTournament_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	ctx := context.Background()

	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	tour := newTournament("Spring Cup", bracket.TournamentActive)
	tour.Players = players
	tour.Start([]bracket.Match{
		bracket.NewMatch(1, players[0], players[1], testStart),
		bracket.NewMatch(1, players[2], players[3], testStart),
	})
	tour.Bracket[0].Report(bracket.Slot1, bracket.OutcomeWin, "2-0")
	tour.Bracket[0].Report(bracket.Slot2, bracket.OutcomeLose, "2-0")
	require.True(t, tour.Bracket[0].Reconcile(players[1], "2-0"))

	require.NoError(t, save(t, db, s, tour))
	assert.Equal(t, 1, tour.Version)

	loaded, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)

	assert.Equal(t, tour.Name, loaded.Name)
	assert.Equal(t, bracket.TournamentActive, loaded.Status)
	assert.Equal(t, 1, loaded.CurrentRound)
	assert.True(t, loaded.StartDate.Equal(testStart))
	assert.Equal(t, players, loaded.Players)
	assert.Empty(t, loaded.PendingPlayers)
	require.Len(t, loaded.Bracket, 2)

	done := loaded.Bracket[0]
	assert.Equal(t, tour.Bracket[0].ID, done.ID)
	assert.Equal(t, bracket.MatchCompleted, done.Status)
	assert.Equal(t, bracket.OutcomeWin, done.Player1Result)
	assert.Equal(t, "2-0", done.Player2Score)
	assert.True(t, done.Player1Submitted)
	require.NotNil(t, done.Result)
	assert.Equal(t, bracket.MatchResult{Score: "2-0", WinnerID: players[0], Approved: true, SubmittedBy: players[1]}, *done.Result)
	assert.Equal(t, players[0], *done.WinnerID)

	open := loaded.Bracket[1]
	assert.Equal(t, bracket.MatchPending, open.Status)
	assert.Nil(t, open.Result)
	assert.Nil(t, open.WinnerID)
	assert.False(t, open.Player1Submitted)
}

func TestSaveTournament_AppendsRounds(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	ctx := context.Background()

	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	tour := newTournament("Spring Cup", bracket.TournamentActive)
	tour.Players = players
	tour.Start([]bracket.Match{
		bracket.NewMatch(1, players[0], players[1], testStart),
		bracket.NewMatch(1, players[2], players[3], testStart),
	})
	require.NoError(t, save(t, db, s, tour))

	loaded, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	loaded.NextRound([]bracket.Match{bracket.NewMatch(2, players[0], players[2], testStart.Add(24*time.Hour))})
	require.NoError(t, save(t, db, s, loaded))

	reloaded, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentRound)
	assert.Equal(t, 2, reloaded.Version)
	require.Len(t, reloaded.Bracket, 3)
	assert.Equal(t, tour.Bracket[0].ID, reloaded.Bracket[0].ID)
	assert.Equal(t, tour.Bracket[1].ID, reloaded.Bracket[1].ID)
	assert.Equal(t, 2, reloaded.Bracket[2].Round)
	assert.Len(t, reloaded.CurrentMatches(), 1)
}

func TestSaveTournament_StaleWrite(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	ctx := context.Background()

	tour := newTournament("Spring Cup", bracket.TournamentPending)
	require.NoError(t, save(t, db, s, tour))

	first, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	second, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)

	first.Players = []uuid.UUID{uuid.New()}
	require.NoError(t, save(t, db, s, first))

	second.Players = []uuid.UUID{uuid.New()}
	assert.ErrorIs(t, save(t, db, s, second), ErrStaleWrite)

	loaded, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Players, loaded.Players)
}

func TestSaveTournament_SingleActive(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	ctx := context.Background()

	require.NoError(t, save(t, db, s, newTournament("First", bracket.TournamentActive)))

	second := newTournament("Second", bracket.TournamentPending)
	require.NoError(t, save(t, db, s, second))
	second.Status = bracket.TournamentActive
	assert.ErrorIs(t, save(t, db, s, second), ErrActiveExists)

	assert.ErrorIs(t, save(t, db, s, newTournament("Third", bracket.TournamentActive)), ErrActiveExists)

	// Ended tournaments are not constrained.
	require.NoError(t, save(t, db, s, newTournament("Old", bracket.TournamentEnded)))
	require.NoError(t, save(t, db, s, newTournament("Older", bracket.TournamentEnded)))

	active, err := s.GetActiveTournament(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "First", active.Name)
}

func TestSaveTournament_OtherUniqueViolationsPassThrough(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)

	_, err := db.Exec("CREATE UNIQUE INDEX tournaments_name_idx ON tournaments (name)")
	require.NoError(t, err)

	require.NoError(t, save(t, db, s, newTournament("Spring Cup", bracket.TournamentPending)))

	err = save(t, db, s, newTournament("Spring Cup", bracket.TournamentPending))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrActiveExists)
	assert.True(t, isUniqueViolation(err))
	assert.Contains(t, err.Error(), "tournaments.name")
}

func TestMapConstraintError(t *testing.T) {
	unnamed := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	assert.Equal(t, error(unnamed), mapConstraintError(unnamed))

	other := errors.New("disk I/O error")
	assert.Equal(t, other, mapConstraintError(other))
}

func TestTournamentQueries(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	ctx := context.Background()
	player := uuid.New()

	pending := newTournament("Friday Night", bracket.TournamentPending)
	pending.Players = []uuid.UUID{player}
	require.NoError(t, save(t, db, s, pending))

	ended := newTournament("Friday Night", bracket.TournamentEnded)
	ended.Players = []uuid.UUID{player}
	ended.CreatedAt = testStart.Add(-48 * time.Hour)
	require.NoError(t, save(t, db, s, ended))

	found, err := s.GetTournamentByNameAndStatus(ctx, nil, "Friday Night", bracket.TournamentPending)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, found.ID)

	_, err = s.GetTournamentByNameAndStatus(ctx, nil, "Friday Night", bracket.TournamentActive)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = s.GetActiveTournament(ctx, nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = s.GetTournament(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, sql.ErrNoRows)

	open, err := s.ListTournaments(ctx, bracket.TournamentPending, bracket.TournamentActive)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pending.ID, open[0].ID)

	all, err := s.ListTournaments(ctx, bracket.TournamentPending, bracket.TournamentEnded)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, pending.ID, all[0].ID, "newest first")

	mine, err := s.ListTournamentsForPlayer(ctx, player)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, pending.ID, mine[0].ID)

	none, err := s.ListTournamentsForPlayer(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPendingPlayersComeFromTournamentQueue(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	q := NewQueueStore(db)
	ctx := context.Background()

	tour := newTournament("Requests Cup", bracket.TournamentPending)
	require.NoError(t, save(t, db, s, tour))

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Add(ctx, nil, bracket.TournamentQueue(tour.ID), second, testStart.Add(time.Minute)))
	require.NoError(t, q.Add(ctx, nil, bracket.TournamentQueue(tour.ID), first, testStart))
	require.NoError(t, q.Add(ctx, nil, bracket.QueuePendingRequests, uuid.New(), testStart))

	loaded, err := s.GetTournament(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, loaded.PendingPlayers)
}

func TestListTournaments_ChildrenStayWithTheirTournament(t *testing.T) {
	db := setupTestDB(t)
	s := NewTournamentStore(db)
	q := NewQueueStore(db)
	ctx := context.Background()

	players := []uuid.UUID{uuid.New(), uuid.New()}
	active := newTournament("Active Cup", bracket.TournamentActive)
	active.MaxPlayers = 2
	active.Players = players
	active.Start([]bracket.Match{bracket.NewMatch(1, players[0], players[1], testStart)})
	require.NoError(t, save(t, db, s, active))

	pending := newTournament("Pending Cup", bracket.TournamentPending)
	pending.Players = []uuid.UUID{uuid.New()}
	pending.CreatedAt = testStart.Add(-2 * time.Hour)
	require.NoError(t, save(t, db, s, pending))
	queued := uuid.New()
	require.NoError(t, q.Add(ctx, nil, bracket.TournamentQueue(pending.ID), queued, testStart))

	empty := newTournament("Empty Cup", bracket.TournamentPending)
	empty.CreatedAt = testStart.Add(-3 * time.Hour)
	require.NoError(t, save(t, db, s, empty))

	list, err := s.ListTournaments(ctx, bracket.TournamentPending, bracket.TournamentActive)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, active.ID, list[0].ID)
	assert.Equal(t, players, list[0].Players)
	assert.Empty(t, list[0].PendingPlayers)
	require.Len(t, list[0].Bracket, 1)
	assert.Equal(t, active.Bracket[0].ID, list[0].Bracket[0].ID)

	assert.Equal(t, pending.ID, list[1].ID)
	assert.Equal(t, pending.Players, list[1].Players)
	assert.Equal(t, []uuid.UUID{queued}, list[1].PendingPlayers)
	assert.Empty(t, list[1].Bracket)

	assert.Equal(t, empty.ID, list[2].ID)
	assert.NotNil(t, list[2].Players)
	assert.Empty(t, list[2].Players)
	assert.NotNil(t, list[2].Bracket)
}
