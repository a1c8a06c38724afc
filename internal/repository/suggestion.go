package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

const suggestions_collection = "suggestions"

type SuggestionRepository struct {
	db *mongo.Database
}

func NewSuggestionRepository(db *mongo.Database) (*SuggestionRepository, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &SuggestionRepository{
		db: db,
	}, nil
}

func (r *SuggestionRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(suggestions_collection)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "cycleId", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("cycle_created"),
	})
	return err
}

func (r *SuggestionRepository) AddSuggestion(ctx context.Context, s *models.Suggestion) error {
	collection := r.db.Collection(suggestions_collection)
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Voters == nil {
		s.Voters = []int64{}
	}
	_, err := collection.InsertOne(ctx, s)
	return err
}

func (r *SuggestionRepository) ListSuggestionsForCycle(ctx context.Context, cycleID primitive.ObjectID) ([]models.Suggestion, error) {
	collection := r.db.Collection(suggestions_collection)
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := collection.Find(ctx, bson.M{"cycleId": cycleID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var suggestions []models.Suggestion
	if err := cursor.All(ctx, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (r *SuggestionRepository) GetSuggestionByID(ctx context.Context, id primitive.ObjectID) (*models.Suggestion, error) {
	collection := r.db.Collection(suggestions_collection)
	var s models.Suggestion
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("suggestion with id %s: %w", id.Hex(), ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

// RecordVote adds each delta's points to its suggestion and records userID as
// a voter. Nothing is written unless every suggestion belongs to the cycle.
func (r *SuggestionRepository) RecordVote(ctx context.Context, cycleID primitive.ObjectID, userID int64, deltas []models.VoteDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	collection := r.db.Collection(suggestions_collection)

	ids := make([]primitive.ObjectID, 0, len(deltas))
	seen := make(map[primitive.ObjectID]struct{}, len(deltas))
	for _, d := range deltas {
		if _, ok := seen[d.SuggestionID]; !ok {
			seen[d.SuggestionID] = struct{}{}
			ids = append(ids, d.SuggestionID)
		}
	}
	found, err := collection.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}, "cycleId": cycleID})
	if err != nil {
		return err
	}
	if found != int64(len(ids)) {
		return fmt.Errorf("vote references a suggestion outside cycle %s: %w", cycleID.Hex(), ErrNotFound)
	}

	writes := make([]mongo.WriteModel, 0, len(deltas))
	for _, d := range deltas {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": d.SuggestionID, "cycleId": cycleID}).
			SetUpdate(bson.M{
				"$inc":      bson.M{"totalPoints": d.Points},
				"$addToSet": bson.M{"voters": userID},
			}))
	}

	result, err := collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return err
	}
	if result.MatchedCount != int64(len(deltas)) {
		return fmt.Errorf("vote references a suggestion outside cycle %s: %w", cycleID.Hex(), ErrNotFound)
	}
	return nil
}

func (r *SuggestionRepository) HasVoted(ctx context.Context, cycleID primitive.ObjectID, userID int64) (bool, error) {
	collection := r.db.Collection(suggestions_collection)
	count, err := collection.CountDocuments(ctx, bson.M{"cycleId": cycleID, "voters": userID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResetSuggestionVotes zeroes points and voters of every suggestion in the cycle.
func (r *SuggestionRepository) ResetSuggestionVotes(ctx context.Context, cycleID primitive.ObjectID) (int64, error) {
	collection := r.db.Collection(suggestions_collection)
	result, err := collection.UpdateMany(ctx,
		bson.M{"cycleId": cycleID},
		bson.M{"$set": bson.M{"totalPoints": 0, "voters": []int64{}}},
	)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *SuggestionRepository) DeleteSuggestionsForCycle(ctx context.Context, cycleID primitive.ObjectID) (int64, error) {
	collection := r.db.Collection(suggestions_collection)
	result, err := collection.DeleteMany(ctx, bson.M{"cycleId": cycleID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
