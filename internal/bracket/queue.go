package bracket

import (
	"time"

	"github.com/google/uuid"
)

// Global join queues. Each tournament also owns a queue, see TournamentQueue.
const (
	QueuePendingRequests = "pending-requests"
	QueueWaitingList     = "waiting-list"
)

func TournamentQueue(tournamentID uuid.UUID) string {
	return "tournament/" + tournamentID.String()
}

type QueueEntry struct {
	Queue       string    `db:"queue" json:"-"`
	UserID      uuid.UUID `db:"user_id" json:"userId"`
	RequestedAt time.Time `db:"requested_at" json:"requestedAt"`
	Username    *string   `db:"username" json:"username,omitempty"`
	Email       *string   `db:"email" json:"email,omitempty"`
}
