// Package tally picks the winning suggestion of a ranked-choice vote.
package tally

import (
	"math/rand/v2"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

// Decision describes how a winner was chosen.
type Decision string

const (
	NoWinner       Decision = "no_winner"
	ByPoints       Decision = "points"
	ByVoterCount   Decision = "voter_count"
	ByRandomChoice Decision = "random"
)

// Result is the outcome of a tally.
type Result struct {
	Winner   *models.Suggestion
	Decision Decision
	// Tied holds the suggestions the final decision was made among.
	Tied []models.Suggestion
}

// Random is the source used to break double ties.
type Random interface {
	IntN(n int) int
}

// Resolver tallies suggestions. The zero value uses the global random source.
type Resolver struct {
	Rand Random
}

// NewResolver returns a Resolver drawing tie-breaks from r. A nil r uses the
// global random source.
func NewResolver(r Random) *Resolver {
	return &Resolver{Rand: r}
}

// Resolve returns the suggestion with the most points. Ties go to the
// suggestion with the most unique voters and then to a random pick among the
// remaining tie set. No votes at all means no winner.
func (r *Resolver) Resolve(suggestions []models.Suggestion) Result {
	if len(suggestions) == 0 {
		return Result{Decision: NoWinner}
	}

	maxPoints := 0
	for _, s := range suggestions {
		maxPoints = max(maxPoints, s.TotalPoints)
	}
	if maxPoints <= 0 {
		return Result{Decision: NoWinner}
	}

	var top []models.Suggestion
	for _, s := range suggestions {
		if s.TotalPoints == maxPoints {
			top = append(top, s)
		}
	}
	if len(top) == 1 {
		return winner(top[0], ByPoints, top)
	}

	maxVoters := 0
	for _, s := range top {
		maxVoters = max(maxVoters, uniqueVoters(s))
	}
	var broadest []models.Suggestion
	for _, s := range top {
		if uniqueVoters(s) == maxVoters {
			broadest = append(broadest, s)
		}
	}
	if len(broadest) == 1 {
		return winner(broadest[0], ByVoterCount, top)
	}

	return winner(broadest[r.intN(len(broadest))], ByRandomChoice, broadest)
}

func (r *Resolver) intN(n int) int {
	if r == nil || r.Rand == nil {
		return rand.IntN(n)
	}
	return r.Rand.IntN(n)
}

func winner(s models.Suggestion, d Decision, tied []models.Suggestion) Result {
	return Result{Winner: &s, Decision: d, Tied: tied}
}

func uniqueVoters(s models.Suggestion) int {
	seen := make(map[int64]struct{}, len(s.Voters))
	for _, v := range s.Voters {
		seen[v] = struct{}{}
	}
	return len(seen)
}
