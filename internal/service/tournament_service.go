package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/AdamBeresnev/op-tournament/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TournamentService struct {
	tournamentTx
	roster    *RosterService
	generator *BracketGeneration
	notifier  *MatchNotifier
	mode      AdmissionMode
	logger    *slog.Logger
	now       func() time.Time
}

func NewTournamentService(
	db *sqlx.DB,
	tournaments *store.TournamentStore,
	roster *RosterService,
	generator *BracketGeneration,
	notifier *MatchNotifier,
	mode AdmissionMode,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		tournamentTx: tournamentTx{db: db, store: tournaments},
		roster:       roster,
		generator:    generator,
		notifier:     notifier,
		mode:         mode,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *TournamentService) Mode() AdmissionMode {
	return s.mode
}

type CreateInput struct {
	Name       string
	MaxPlayers int
	StartDate  time.Time
}

func (in *CreateInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return validationError("tournament name is required")
	}
	if !bracket.ValidMaxPlayers(in.MaxPlayers) {
		return ErrInvalidMaxPlayers
	}
	if in.StartDate.IsZero() {
		return validationError("start date is required")
	}
	return nil
}

func (s *TournamentService) newTournament(caller users.Caller, in CreateInput) *bracket.Tournament {
	return &bracket.Tournament{
		ID:             uuid.New(),
		Name:           in.Name,
		Status:         bracket.TournamentPending,
		MaxPlayers:     in.MaxPlayers,
		StartDate:      in.StartDate.UTC(),
		CreatedBy:      caller.ID,
		CreatedAt:      s.now().UTC(),
		Players:        []uuid.UUID{},
		PendingPlayers: []uuid.UUID{},
		Bracket:        []bracket.Match{},
	}
}

// CreateTournament opens a new pending tournament. Only one non-ended tournament may be active at a time.
func (s *TournamentService) CreateTournament(ctx context.Context, caller users.Caller, in CreateInput) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	t, err := s.insert(ctx, func(tx *sqlx.Tx) (*bracket.Tournament, error) {
		if err := s.ensureNoOtherActive(ctx, tx, uuid.Nil); err != nil {
			return nil, err
		}
		return s.newTournament(caller, in), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tournament created", "tournament_id", t.ID, "name", t.Name, "max_players", t.MaxPlayers)
	return t, nil
}

func (s *TournamentService) GetTournament(ctx context.Context, id uuid.UUID) (*bracket.Tournament, error) {
	t, err := s.store.GetTournament(ctx, nil, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return t, nil
}

// ListTournaments returns every tournament that has not ended yet.
func (s *TournamentService) ListTournaments(ctx context.Context) ([]bracket.Tournament, error) {
	return s.store.ListTournaments(ctx, bracket.TournamentPending, bracket.TournamentActive)
}

func (s *TournamentService) ListPreviousResults(ctx context.Context) ([]bracket.Tournament, error) {
	return s.store.ListTournaments(ctx, bracket.TournamentEnded)
}

func (s *TournamentService) ListForPlayer(ctx context.Context, caller users.Caller) ([]bracket.Tournament, error) {
	return s.store.ListTournamentsForPlayer(ctx, caller.ID)
}

type AdmitInput struct {
	PlayerIDs []uuid.UUID
	// MatchTime schedules the first round. Defaults to the tournament start date.
	MatchTime time.Time
	// Queue overrides the queue players are admitted from.
	Queue string
}

// AdmitPlayers seats the selected players from the join queue and starts round one.
func (s *TournamentService) AdmitPlayers(ctx context.Context, caller users.Caller, tournamentID uuid.UUID, in AdmitInput) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}

	t, err := s.update(ctx, tournamentID, func(tx *sqlx.Tx, t *bracket.Tournament) error {
		return s.admit(ctx, tx, t, in)
	})
	if err != nil {
		return nil, err
	}
	s.started(t)
	return t, nil
}

// AdmitByName resolves a pending tournament by name before admitting players into it.
func (s *TournamentService) AdmitByName(ctx context.Context, caller users.Caller, name string, in AdmitInput) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	t, err := s.store.GetTournamentByNameAndStatus(ctx, nil, strings.TrimSpace(name), bracket.TournamentPending)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return s.AdmitPlayers(ctx, caller, t.ID, in)
}

func (s *TournamentService) admit(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament, in AdmitInput) error {
	if t.Status != bracket.TournamentPending {
		return ErrNotPending
	}
	ids := in.PlayerIDs
	if len(ids) < 2 {
		return validationError("select at least 2 players")
	}
	if len(ids) > t.MaxPlayers {
		return validationError("cannot admit %d players, tournament allows %d", len(ids), t.MaxPlayers)
	}
	if dups := duplicates(ids); len(dups) > 0 {
		return &InvalidPlayersError{Reason: "players selected more than once", IDs: dups}
	}

	queue := in.Queue
	if queue == "" {
		queue = s.mode.Queue(t.ID)
	}
	if err := s.roster.promote(ctx, tx, queue, ids); err != nil {
		return err
	}
	if err := s.ensureNoOtherActive(ctx, tx, t.ID); err != nil {
		return err
	}

	scheduled := in.MatchTime
	if scheduled.IsZero() {
		scheduled = t.StartDate
	}
	t.Players = append([]uuid.UUID(nil), ids...)
	t.Start(s.generator.Pair(t.Players, scheduled.UTC(), 1))
	return nil
}

type CreateFromQueueInput struct {
	Name      string
	PlayerIDs []uuid.UUID
	StartDate time.Time
	MatchTime time.Time
}

// CreateFromQueue creates a tournament sized to the selected players and starts it immediately.
func (s *TournamentService) CreateFromQueue(ctx context.Context, caller users.Caller, queue string, in CreateFromQueueInput) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if !bracket.ValidMaxPlayers(len(in.PlayerIDs)) {
		return nil, validationError("select 2, 4 or 8 players, got %d", len(in.PlayerIDs))
	}
	if in.StartDate.IsZero() {
		in.StartDate = s.now()
	}
	create := CreateInput{Name: in.Name, MaxPlayers: len(in.PlayerIDs), StartDate: in.StartDate}
	if err := create.normalize(); err != nil {
		return nil, err
	}

	t, err := s.insert(ctx, func(tx *sqlx.Tx) (*bracket.Tournament, error) {
		if err := s.ensureNoOtherActive(ctx, tx, uuid.Nil); err != nil {
			return nil, err
		}
		t := s.newTournament(caller, create)
		admit := AdmitInput{PlayerIDs: in.PlayerIDs, MatchTime: in.MatchTime, Queue: queue}
		if err := s.admit(ctx, tx, t, admit); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tournament created from queue", "tournament_id", t.ID, "queue", queue, "players", len(t.Players))
	s.started(t)
	return t, nil
}

// JoinDirect seats the caller straight into a pending tournament. Filling the last seat starts it.
func (s *TournamentService) JoinDirect(ctx context.Context, caller users.Caller, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	var started bool
	t, err := s.update(ctx, tournamentID, func(tx *sqlx.Tx, t *bracket.Tournament) error {
		started = false
		if t.Status != bracket.TournamentPending {
			return ErrNotPending
		}
		if t.IsFull() {
			return ErrTournamentFull
		}
		if t.HasPlayer(caller.ID) {
			return ErrAlreadyJoined
		}
		t.Players = append(t.Players, caller.ID)
		if !t.IsFull() {
			return nil
		}
		if err := s.ensureNoOtherActive(ctx, tx, t.ID); err != nil {
			return err
		}
		t.Start(s.generator.Pair(t.Players, t.StartDate, 1))
		started = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if started {
		s.started(t)
	}
	return t, nil
}

type JoinResult struct {
	Queued     bool
	Tournament *bracket.Tournament
}

// Join routes a join request according to the configured admission mode.
// tournamentID may be uuid.Nil for modes that use a global queue.
func (s *TournamentService) Join(ctx context.Context, caller users.Caller, tournamentID uuid.UUID) (*JoinResult, error) {
	switch s.mode {
	case AdmitFromWaitingList:
		return &JoinResult{Queued: true}, s.roster.RequestJoin(ctx, caller, bracket.QueueWaitingList)
	case AdmitFromTournamentRequests:
		if tournamentID == uuid.Nil {
			return nil, validationError("tournament id is required")
		}
		return &JoinResult{Queued: true}, s.roster.RequestTournamentJoin(ctx, caller, tournamentID)
	case AdmitDirect:
		if tournamentID == uuid.Nil {
			return nil, validationError("tournament id is required")
		}
		t, err := s.JoinDirect(ctx, caller, tournamentID)
		if err != nil {
			return nil, err
		}
		return &JoinResult{Tournament: t}, nil
	}
	return &JoinResult{Queued: true}, s.roster.RequestJoin(ctx, caller, bracket.QueuePendingRequests)
}

// RoundComplete reports whether every match in the current round has a final result.
func (s *TournamentService) RoundComplete(ctx context.Context, tournamentID uuid.UUID) (bool, error) {
	t, err := s.GetTournament(ctx, tournamentID)
	if err != nil {
		return false, err
	}
	return t.Status == bracket.TournamentActive && t.RoundComplete(), nil
}

type AdvanceInput struct {
	Winners       []uuid.UUID
	NextRoundTime time.Time
}

// AdvanceRound either pairs the selected winners into the next round or, with a single
// winner, ends the tournament and crowns them.
func (s *TournamentService) AdvanceRound(ctx context.Context, caller users.Caller, tournamentID uuid.UUID, in AdvanceInput) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}

	var continued bool
	t, err := s.update(ctx, tournamentID, func(_ *sqlx.Tx, t *bracket.Tournament) error {
		continued = false
		if t.Status != bracket.TournamentActive {
			return ErrNotActive
		}
		if !t.RoundComplete() {
			return ErrRoundIncomplete
		}
		if dups := duplicates(in.Winners); len(dups) > 0 {
			return &InvalidPlayersError{Reason: "winners selected more than once", IDs: dups}
		}
		if lost := difference(in.Winners, t.RoundWinners()); len(lost) > 0 {
			return &InvalidPlayersError{Reason: "players did not win a match this round", IDs: lost}
		}

		expected := len(t.CurrentMatches())
		switch {
		case len(in.Winners) == 1:
			t.End(s.now().UTC(), utils.Ptr(in.Winners[0]))
		case len(in.Winners) == expected:
			if in.NextRoundTime.IsZero() {
				return validationError("next round time is required")
			}
			t.NextRound(s.generator.Pair(in.Winners, in.NextRoundTime.UTC(), t.CurrentRound+1))
			continued = true
		default:
			return validationError("select %d winners to continue or 1 to finish", expected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if continued {
		s.logger.Info("tournament advanced", "tournament_id", t.ID, "round", t.CurrentRound)
		s.notifier.MatchesScheduled(t.Name, t.CurrentMatches())
	} else {
		s.logger.Info("tournament finished", "tournament_id", t.ID, "champion", t.ChampionID)
	}
	return t, nil
}

// EndTournament stops a pending or active tournament without crowning anyone.
func (s *TournamentService) EndTournament(ctx context.Context, caller users.Caller, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	t, err := s.update(ctx, tournamentID, func(_ *sqlx.Tx, t *bracket.Tournament) error {
		if t.Status == bracket.TournamentEnded {
			return ErrAlreadyEnded
		}
		t.End(s.now().UTC(), nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tournament ended", "tournament_id", t.ID)
	return t, nil
}

// ActiveTournament returns the active tournament, or nil when there is none.
func (s *TournamentService) ActiveTournament(ctx context.Context) (*bracket.Tournament, error) {
	t, err := s.store.GetActiveTournament(ctx, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *TournamentService) started(t *bracket.Tournament) {
	s.logger.Info("tournament started", "tournament_id", t.ID, "players", len(t.Players))
	s.notifier.MatchesScheduled(t.Name, t.CurrentMatches())
}
