package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const maxSaveAttempts = 3

// tournamentTx runs read-modify-write cycles on a single tournament.
type tournamentTx struct {
	db    *sqlx.DB
	store *store.TournamentStore
}

type mutation func(tx *sqlx.Tx, t *bracket.Tournament) error

// update loads the tournament, applies fn and saves it in one transaction.
// If another writer got there first the whole cycle reruns on a fresh copy.
func (u tournamentTx) update(ctx context.Context, id uuid.UUID, fn mutation) (*bracket.Tournament, error) {
	var err error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		var t *bracket.Tournament
		t, err = u.updateOnce(ctx, id, fn)
		if !errors.Is(err, store.ErrStaleWrite) {
			return t, err
		}
	}
	return nil, fmt.Errorf("%w: tournament is being modified, try again: %w", ErrConflict, err)
}

func (u tournamentTx) updateOnce(ctx context.Context, id uuid.UUID, fn mutation) (*bracket.Tournament, error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := u.store.GetTournament(ctx, tx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if err := fn(tx, t); err != nil {
		return nil, err
	}
	if err := u.store.SaveTournament(ctx, tx, t); err != nil {
		return nil, mapStoreError(err)
	}
	return t, tx.Commit()
}

// insert saves a brand-new tournament built by fn inside a transaction.
func (u tournamentTx) insert(ctx context.Context, fn func(tx *sqlx.Tx) (*bracket.Tournament, error)) (*bracket.Tournament, error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := u.store.SaveTournament(ctx, tx, t); err != nil {
		return nil, mapStoreError(err)
	}
	return t, tx.Commit()
}

// ensureNoOtherActive gives a readable error before the single-active index would reject the write.
func (u tournamentTx) ensureNoOtherActive(ctx context.Context, tx *sqlx.Tx, self uuid.UUID) error {
	active, err := u.store.GetActiveTournament(ctx, tx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up active tournament: %w", err)
	}
	if active.ID != self {
		return ErrActiveTournamentExists
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrTournamentNotFound
	case errors.Is(err, store.ErrActiveExists):
		return ErrActiveTournamentExists
	case errors.Is(err, store.ErrStaleWrite):
		return err
	}
	return fmt.Errorf("tournament store: %w", err)
}
