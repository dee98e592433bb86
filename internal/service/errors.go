package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error kinds. Every error returned by a service wraps exactly one of them.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("operation not allowed for the current user")
	ErrNotFound   = errors.New("requested resource not found")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid tournament state")
)

var (
	ErrTournamentNotFound = fmt.Errorf("%w: tournament not found", ErrNotFound)
	ErrMatchNotFound      = fmt.Errorf("%w: match not found", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)

	ErrActiveTournamentExists = fmt.Errorf("%w: an active tournament already exists, end it before starting another", ErrConflict)
	ErrAlreadyRequested       = fmt.Errorf("%w: join request already submitted", ErrConflict)
	ErrAlreadyJoined          = fmt.Errorf("%w: already joined this tournament", ErrConflict)

	ErrAdminOnly      = fmt.Errorf("%w: admin role required", ErrForbidden)
	ErrNotParticipant = fmt.Errorf("%w: not a participant of this match", ErrForbidden)

	ErrNotPending        = fmt.Errorf("%w: tournament is not open for joining", ErrState)
	ErrNotActive         = fmt.Errorf("%w: tournament is not active", ErrState)
	ErrAlreadyEnded      = fmt.Errorf("%w: tournament has already ended", ErrState)
	ErrTournamentFull    = fmt.Errorf("%w: tournament is full", ErrState)
	ErrRoundIncomplete   = fmt.Errorf("%w: current round has unfinished matches", ErrState)
	ErrMatchCompleted    = fmt.Errorf("%w: match result is already final", ErrState)
	ErrInvalidMaxPlayers = fmt.Errorf("%w: max players must be 2, 4 or 8", ErrValidation)
)

// InvalidPlayersError lists requested players that could not be accepted.
type InvalidPlayersError struct {
	Reason string
	IDs    []uuid.UUID
}

func (e *InvalidPlayersError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(ids, ", "))
}

func (e *InvalidPlayersError) Unwrap() error {
	return ErrValidation
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
