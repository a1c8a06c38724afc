package models

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Suggestion is a book proposed during the suggestion phase together with the
// ranked-choice points it has received.
type Suggestion struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	CycleID     primitive.ObjectID `bson:"cycleId"`
	Title       string             `bson:"title"`
	Author      string             `bson:"author"`
	Link        string             `bson:"link,omitempty"`
	Notes       string             `bson:"notes,omitempty"`
	ProposerID  int64              `bson:"proposerId"`
	CreatedAt   time.Time          `bson:"createdAt"`
	TotalPoints int                `bson:"totalPoints"`
	Voters      []int64            `bson:"voters"`
}

// HasVoter reports whether userID has a ranked vote touching this suggestion.
func (s Suggestion) HasVoter(userID int64) bool {
	return slices.Contains(s.Voters, userID)
}

// VoteDelta is the points one ballot adds to one suggestion.
type VoteDelta struct {
	SuggestionID primitive.ObjectID
	Points       int
}

// Ranked-choice weights.
const (
	FirstChoicePoints  = 3
	SecondChoicePoints = 2
	ThirdChoicePoints  = 1
)
