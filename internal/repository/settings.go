package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

const settings_collection = "settings"

// SettingsRepository stores per-group defaults, keyed by the chat id.
type SettingsRepository struct {
	db *mongo.Database
}

func NewSettingsRepository(db *mongo.Database) (*SettingsRepository, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &SettingsRepository{
		db: db,
	}, nil
}

func (s *SettingsRepository) SaveGroupDurations(ctx context.Context, groupID int64, d models.PhaseDurations) error {
	collection := s.db.Collection(settings_collection)
	opts := options.Update().SetUpsert(true)
	filter := bson.M{"_id": groupID}
	update := bson.M{"$set": bson.M{"phaseDurations": d}}

	_, err := collection.UpdateOne(ctx, filter, update, opts)
	return err
}

func (s *SettingsRepository) GetGroupDurations(ctx context.Context, groupID int64) (models.PhaseDurations, error) {
	collection := s.db.Collection(settings_collection)
	var res struct {
		PhaseDurations models.PhaseDurations `bson:"phaseDurations"`
	}

	filter := bson.M{"_id": groupID}
	if err := collection.FindOne(ctx, filter).Decode(&res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.PhaseDurations{}, fmt.Errorf("settings of group %d: %w", groupID, ErrNotFound)
		}
		return models.PhaseDurations{}, err
	}

	return res.PhaseDurations, nil
}
