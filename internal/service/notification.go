package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/AdamBeresnev/op-tournament/internal/notify"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/google/uuid"
)

const matchTimeLayout = "Mon, 02 Jan 2006 15:04 MST"

type UserFinder interface {
	GetUser(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// MatchNotifier tells both players of a freshly scheduled match who they face and when.
// Delivery happens on the dispatcher; nothing here can fail the caller.
type MatchNotifier struct {
	dispatcher *notify.Dispatcher
	notifier   notify.Notifier
	users      UserFinder
	logger     *slog.Logger
}

func NewMatchNotifier(dispatcher *notify.Dispatcher, notifier notify.Notifier, users UserFinder, logger *slog.Logger) *MatchNotifier {
	return &MatchNotifier{dispatcher: dispatcher, notifier: notifier, users: users, logger: logger}
}

func (n *MatchNotifier) MatchesScheduled(tournamentName string, matches []*bracket.Match) {
	if n == nil {
		return
	}
	for _, m := range matches {
		match := *m
		err := n.dispatcher.Enqueue("match-scheduled:"+match.ID.String(), func(ctx context.Context) error {
			return n.sendMatchScheduled(ctx, tournamentName, match)
		})
		if err != nil {
			n.logger.Warn("could not schedule match notification", "match_id", match.ID, "error", err)
		}
	}
}

func (n *MatchNotifier) sendMatchScheduled(ctx context.Context, tournamentName string, m bracket.Match) error {
	player1, err := n.users.GetUser(ctx, m.Player1ID)
	if err != nil {
		return fmt.Errorf("look up player %s: %w", m.Player1ID, err)
	}
	player2, err := n.users.GetUser(ctx, m.Player2ID)
	if err != nil {
		return fmt.Errorf("look up player %s: %w", m.Player2ID, err)
	}

	subject := "Tournament Match Scheduled: " + tournamentName
	when := m.ScheduledTime.Format(matchTimeLayout)
	return errors.Join(
		n.notifier.Notify(ctx, player1.Email, subject, matchScheduledBody(player1.Username, player2.Username, when, m.Round)),
		n.notifier.Notify(ctx, player2.Email, subject, matchScheduledBody(player2.Username, player1.Username, when, m.Round)),
	)
}

func matchScheduledBody(player, opponent, when string, round int) string {
	return fmt.Sprintf("Hello %s,\n\nYou have a tournament match scheduled!\nRound: %d\nOpponent: %s\nDate & Time: %s\n\nGood luck!",
		player, round, opponent, when)
}
