package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/notify"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	// Every connection would get its own empty in-memory database.
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	driver, err := sqlite3.WithInstance(database.DB, &sqlite3.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "sqlite3", driver)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type fixture struct {
	db          *sqlx.DB
	tournaments *TournamentService
	matches     *MatchService
	roster      *RosterService
	users       *UserService

	tournamentStore *store.TournamentStore
	queueStore      *store.QueueStore

	notifier   *recordingNotifier
	dispatcher *notify.Dispatcher
	admin      users.Caller
	clock      time.Time
}

func newFixture(t *testing.T, mode AdmissionMode) *fixture {
	t.Helper()
	return newFixtureOn(t, mode, setupTestDB(t))
}

func newFixtureOn(t *testing.T, mode AdmissionMode, db *sqlx.DB) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tournamentStore := store.NewTournamentStore(db)
	queueStore := store.NewQueueStore(db)
	userStore := store.NewUserStore(db)

	notifier := &recordingNotifier{}
	dispatcher := notify.NewDispatcher(logger, 2, 64, time.Second)
	matchNotifier := NewMatchNotifier(dispatcher, notifier, userStore, logger)

	roster := NewRosterService(db, queueStore, tournamentStore)
	f := &fixture{
		db:              db,
		roster:          roster,
		tournaments:     NewTournamentService(db, tournamentStore, roster, NewBracketGeneration(rand.NewPCG(7, 11)), matchNotifier, mode, logger),
		matches:         NewMatchService(db, tournamentStore, userStore, logger),
		users:           NewUserService(userStore),
		tournamentStore: tournamentStore,
		queueStore:      queueStore,
		notifier:        notifier,
		dispatcher:      dispatcher,
		clock:           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	// Each call moves the clock forward so queue order is deterministic.
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.roster.now = tick
	f.tournaments.now = tick
	f.users.now = tick

	t.Cleanup(func() {
		dispatcher.Close()
		db.Close()
	})

	admin, err := f.users.EnsureUser(context.Background(), Identity{ID: uuid.New(), Username: "admin", Email: "admin@example.com", Role: users.RoleAdmin})
	require.NoError(t, err)
	f.admin = users.Caller{ID: admin.ID, Role: admin.Role}
	return f
}

// flush waits for every queued notification to be delivered.
func (f *fixture) flush() {
	f.dispatcher.Close()
}

func (f *fixture) players(t *testing.T, n int) []users.Caller {
	t.Helper()
	callers := make([]users.Caller, n)
	for i := range callers {
		name := fmt.Sprintf("player%d", i+1)
		u, err := f.users.EnsureUser(context.Background(), Identity{ID: uuid.New(), Username: name, Email: name + "@example.com"})
		require.NoError(t, err)
		callers[i] = users.Caller{ID: u.ID, Role: u.Role}
	}
	return callers
}

func ids(callers []users.Caller) []uuid.UUID {
	out := make([]uuid.UUID, len(callers))
	for i, c := range callers {
		out[i] = c.ID
	}
	return out
}

func playerCaller(id uuid.UUID) users.Caller {
	return users.Caller{ID: id, Role: users.RolePlayer}
}

func (f *fixture) createTournament(t *testing.T, name string, maxPlayers int) *bracket.Tournament {
	t.Helper()
	tour, err := f.tournaments.CreateTournament(context.Background(), f.admin, CreateInput{
		Name:       name,
		MaxPlayers: maxPlayers,
		StartDate:  time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return tour
}

func (f *fixture) requestJoin(t *testing.T, queue string, callers []users.Caller) {
	t.Helper()
	for _, c := range callers {
		require.NoError(t, f.roster.RequestJoin(context.Background(), c, queue))
	}
}

// startTournament creates a tournament for n queued players and admits all of them.
func (f *fixture) startTournament(t *testing.T, n int) (*bracket.Tournament, []users.Caller) {
	t.Helper()
	tour := f.createTournament(t, "Spring Cup", n)
	players := f.players(t, n)
	f.requestJoin(t, bracket.QueuePendingRequests, players)

	tour, err := f.tournaments.AdmitPlayers(context.Background(), f.admin, tour.ID, AdmitInput{PlayerIDs: ids(players)})
	require.NoError(t, err)
	return tour, players
}

func (f *fixture) submit(t *testing.T, tournamentID, matchID, playerID uuid.UUID, outcome bracket.Outcome, score string) *SubmitResult {
	t.Helper()
	res, err := f.matches.SubmitResult(context.Background(), playerCaller(playerID), tournamentID, SubmitInput{
		MatchID: matchID,
		Outcome: outcome,
		Score:   score,
	})
	require.NoError(t, err)
	return res
}

// completeRound makes player one win every match of the current round by agreement.
func (f *fixture) completeRound(t *testing.T, tour *bracket.Tournament) []uuid.UUID {
	t.Helper()
	var winners []uuid.UUID
	for _, m := range tour.CurrentMatches() {
		f.submit(t, tour.ID, m.ID, m.Player1ID, bracket.OutcomeWin, "2-0")
		res := f.submit(t, tour.ID, m.ID, m.Player2ID, bracket.OutcomeLose, "2-0")
		require.True(t, res.AutoApproved)
		winners = append(winners, m.Player1ID)
	}
	return winners
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *bracket.Tournament {
	t.Helper()
	tour, err := f.tournaments.GetTournament(context.Background(), id)
	require.NoError(t, err)
	return tour
}
