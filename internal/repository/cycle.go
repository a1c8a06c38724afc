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

const cycles_collection = "cycles"

type CycleRepository struct {
	db *mongo.Database
}

func NewCycleRepository(db *mongo.Database) (*CycleRepository, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &CycleRepository{
		db: db,
	}, nil
}

// EnsureIndexes enforces at most one active cycle per group.
func (r *CycleRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(cycles_collection)
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "groupId", Value: 1}},
			Options: options.Index().
				SetName("one_active_cycle_per_group").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": models.StatusActive}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
	})
	return err
}

func (r *CycleRepository) CreateCycle(ctx context.Context, c *models.Cycle) error {
	collection := r.db.Collection(cycles_collection)
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.PhaseTimings == nil {
		c.PhaseTimings = map[models.Phase]models.PhaseTiming{}
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if _, err := collection.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrActiveCycleExists
		}
		return err
	}
	return nil
}

func (r *CycleRepository) ListActiveCycles(ctx context.Context) ([]models.Cycle, error) {
	collection := r.db.Collection(cycles_collection)
	cursor, err := collection.Find(ctx, bson.M{"status": models.StatusActive})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cycles []models.Cycle
	for cursor.Next(ctx) {
		var c models.Cycle
		if err := cursor.Decode(&c); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return cycles, nil
}

func (r *CycleRepository) GetCycleByID(ctx context.Context, id primitive.ObjectID) (*models.Cycle, error) {
	return r.findOne(ctx, bson.M{"_id": id}, fmt.Sprintf("cycle with id %s", id.Hex()))
}

func (r *CycleRepository) GetActiveCycleByGroup(ctx context.Context, groupID int64) (*models.Cycle, error) {
	filter := bson.M{"groupId": groupID, "status": models.StatusActive}
	return r.findOne(ctx, filter, fmt.Sprintf("active cycle for group %d", groupID))
}

func (r *CycleRepository) findOne(ctx context.Context, filter bson.M, what string) (*models.Cycle, error) {
	collection := r.db.Collection(cycles_collection)
	var c models.Cycle
	if err := collection.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCycle persists only the fields listed in u and returns the number of
// modified documents.
func (r *CycleRepository) UpdateCycle(ctx context.Context, id primitive.ObjectID, u models.CycleUpdate) (int64, error) {
	if u.Empty() {
		return 0, nil
	}
	collection := r.db.Collection(cycles_collection)
	result, err := collection.UpdateOne(ctx, bson.M{"_id": id}, cycleUpdateDocument(u, time.Now().UTC()))
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *CycleRepository) DeleteCycle(ctx context.Context, id primitive.ObjectID) (int64, error) {
	collection := r.db.Collection(cycles_collection)
	result, err := collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// cycleUpdateDocument translates a partial update into $set and $unset operators.
func cycleUpdateDocument(u models.CycleUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	unset := bson.M{}

	if v, ok := u.CurrentPhase.Value(); ok {
		set["currentPhase"] = v
	}
	if v, ok := u.Status.Value(); ok {
		set["status"] = v
	}
	if v, ok := u.SelectedBookID.Value(); ok {
		set["selectedBookId"] = v
	} else if u.SelectedBookID.IsUnset() {
		unset["selectedBookId"] = ""
	}
	if v, ok := u.PhaseDurations.Value(); ok {
		set["phaseDurations"] = v
	}
	if v, ok := u.Name.Value(); ok {
		set["name"] = v
	}
	for phase, timing := range u.Timings {
		set["phaseTimings."+string(phase)] = timing
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}
