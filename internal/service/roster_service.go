package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AdmissionMode decides where a join request goes.
type AdmissionMode string

const (
	AdmitFromPendingRequests    AdmissionMode = "pending-requests"
	AdmitFromWaitingList        AdmissionMode = "waiting-list"
	AdmitFromTournamentRequests AdmissionMode = "tournament-requests"
	AdmitDirect                 AdmissionMode = "direct"
)

func ParseAdmissionMode(s string) (AdmissionMode, error) {
	switch m := AdmissionMode(s); m {
	case AdmitFromPendingRequests, AdmitFromWaitingList, AdmitFromTournamentRequests, AdmitDirect:
		return m, nil
	}
	return "", fmt.Errorf("unknown admission mode %q", s)
}

// Queue is the queue admins admit players from for the given tournament.
func (m AdmissionMode) Queue(tournamentID uuid.UUID) string {
	switch m {
	case AdmitFromWaitingList:
		return bracket.QueueWaitingList
	case AdmitFromTournamentRequests, AdmitDirect:
		return bracket.TournamentQueue(tournamentID)
	}
	return bracket.QueuePendingRequests
}

// RosterService manages join queues: players request, admins review and promote.
type RosterService struct {
	db          *sqlx.DB
	queues      *store.QueueStore
	tournaments *store.TournamentStore
	now         func() time.Time
}

func NewRosterService(db *sqlx.DB, queues *store.QueueStore, tournaments *store.TournamentStore) *RosterService {
	return &RosterService{db: db, queues: queues, tournaments: tournaments, now: time.Now}
}

func (s *RosterService) RequestJoin(ctx context.Context, caller users.Caller, queue string) error {
	err := s.queues.Add(ctx, nil, queue, caller.ID, s.now().UTC())
	if errors.Is(err, store.ErrDuplicateEntry) {
		return ErrAlreadyRequested
	}
	return err
}

// RequestTournamentJoin queues the caller for one specific pending tournament.
func (s *RosterService) RequestTournamentJoin(ctx context.Context, caller users.Caller, tournamentID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := s.tournaments.GetTournament(ctx, tx, tournamentID)
	if err != nil {
		return mapStoreError(err)
	}
	if t.Status != bracket.TournamentPending {
		return ErrNotPending
	}
	if t.HasPlayer(caller.ID) {
		return ErrAlreadyJoined
	}

	err = s.queues.Add(ctx, tx, bracket.TournamentQueue(t.ID), caller.ID, s.now().UTC())
	if errors.Is(err, store.ErrDuplicateEntry) {
		return ErrAlreadyRequested
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RosterService) ListPending(ctx context.Context, caller users.Caller, queue string) ([]bracket.QueueEntry, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return s.queues.List(ctx, nil, queue)
}

// promote removes ids from queue and fails if any of them was never queued.
func (s *RosterService) promote(ctx context.Context, tx *sqlx.Tx, queue string, ids []uuid.UUID) error {
	present, err := s.queues.Present(ctx, tx, queue, ids)
	if err != nil {
		return err
	}
	if missing := difference(ids, present); len(missing) > 0 {
		return &InvalidPlayersError{Reason: "players have no join request", IDs: missing}
	}
	_, err = s.queues.Remove(ctx, tx, queue, ids)
	return err
}

func difference(want, have []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range want {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func duplicates(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var dups []uuid.UUID
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			dups = append(dups, id)
			continue
		}
		seen[id] = struct{}{}
	}
	return dups
}
