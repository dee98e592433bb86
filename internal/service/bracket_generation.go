package service

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/google/uuid"
)

// BracketGeneration pairs players into the matches of a single round.
type BracketGeneration struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewBracketGeneration(src rand.Source) *BracketGeneration {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &BracketGeneration{rng: rand.New(src)}
}

// shuffle returns a uniformly permuted copy of ids (Fisher-Yates).
func (g *BracketGeneration) shuffle(ids []uuid.UUID) []uuid.UUID {
	shuffled := make([]uuid.UUID, len(ids))
	copy(shuffled, ids)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// Pair shuffles playerIDs and pairs neighbours (0,1), (2,3), ...
// With an odd count the last shuffled player gets no match.
func (g *BracketGeneration) Pair(playerIDs []uuid.UUID, scheduled time.Time, round int) []bracket.Match {
	shuffled := g.shuffle(playerIDs)

	matches := make([]bracket.Match, 0, len(shuffled)/2)
	for i := 0; i+1 < len(shuffled); i += 2 {
		matches = append(matches, bracket.NewMatch(round, shuffled[i], shuffled[i+1], scheduled))
	}
	return matches
}
