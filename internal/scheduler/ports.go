package scheduler

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/greg-py/Chapters-sub000/internal/cycle"
	"github.com/greg-py/Chapters-sub000/internal/models"
)

// Repository is the persistence boundary of the scheduler.
type Repository interface {
	cycle.Repository
	ListActiveCycles(ctx context.Context) ([]models.Cycle, error)
	ResetSuggestionVotes(ctx context.Context, cycleID primitive.ObjectID) (int64, error)
}

// Notifier delivers messages to a group chat.
type Notifier interface {
	PostMessage(ctx context.Context, groupID int64, text string) error
}

// Directory answers membership questions about a group.
type Directory interface {
	ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error)
	IsBotUser(ctx context.Context, groupID, userID int64) (bool, error)
}
