package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/greg-py/Chapters-sub000/internal/models"
	mongo_helpers "github.com/greg-py/Chapters-sub000/internal/repository/testing"
)

func TestNewCycleRepository(t *testing.T) {
	t.Run("with nil database", func(t *testing.T) {
		repo, err := NewCycleRepository(nil)
		assert.Equal(t, ErrNilDatabase, err)
		assert.Nil(t, repo)
	})

	t.Run("store with nil database", func(t *testing.T) {
		store, err := NewStore(nil)
		assert.Equal(t, ErrNilDatabase, err)
		assert.Nil(t, store)
	})
}

func TestCycleUpdateDocument(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	bookID := primitive.NewObjectID()

	t.Run("set fields and timings", func(t *testing.T) {
		start := now.Add(-time.Hour)
		doc := cycleUpdateDocument(models.CycleUpdate{
			CurrentPhase:   models.Set(models.PhaseReading),
			SelectedBookID: models.Set(bookID),
			Timings: map[models.Phase]models.PhaseTiming{
				models.PhaseReading: {StartDate: &start},
			},
		}, now)

		set := doc["$set"].(bson.M)
		assert.Equal(t, models.PhaseReading, set["currentPhase"])
		assert.Equal(t, bookID, set["selectedBookId"])
		assert.Equal(t, now, set["updatedAt"])
		assert.Equal(t, models.PhaseTiming{StartDate: &start}, set["phaseTimings.reading"])
		assert.NotContains(t, set, "status")
		assert.NotContains(t, doc, "$unset")
	})

	t.Run("unset selected book", func(t *testing.T) {
		doc := cycleUpdateDocument(models.CycleUpdate{
			SelectedBookID: models.Unset[primitive.ObjectID](),
		}, now)

		set := doc["$set"].(bson.M)
		assert.NotContains(t, set, "selectedBookId")
		assert.Equal(t, bson.M{"selectedBookId": ""}, doc["$unset"])
	})

	t.Run("omitted fields are untouched", func(t *testing.T) {
		doc := cycleUpdateDocument(models.CycleUpdate{Status: models.Set(models.StatusCompleted)}, now)
		assert.Equal(t, bson.M{"status": models.StatusCompleted, "updatedAt": now}, doc["$set"])
	})
}

func TestCycleRepository(t *testing.T) {
	requireMongo(t)

	setupTest := func() (*CycleRepository, func()) {
		db, clear := mongo_helpers.CreateTestMongoDB(t)
		repo, err := NewCycleRepository(db)
		require.NoError(t, err)
		require.NoError(t, repo.EnsureIndexes(context.Background()))

		return repo, func() {
			clear()
			mongo_helpers.DropCollection(db, cycles_collection)
		}
	}

	createContext := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 2*time.Second)
	}

	newCycle := func(groupID int64) *models.Cycle {
		return &models.Cycle{
			GroupID:        groupID,
			CurrentPhase:   models.PhasePending,
			Status:         models.StatusActive,
			PhaseDurations: models.DefaultPhaseDurations(models.UnitDays),
		}
	}

	t.Run("CreateCycle", func(t *testing.T) {
		t.Run("one active cycle per group", func(t *testing.T) {
			repo, cleanup := setupTest()
			defer cleanup()

			ctx, cancel := createContext()
			defer cancel()

			require.NoError(t, repo.CreateCycle(ctx, newCycle(42)))
			err := repo.CreateCycle(ctx, newCycle(42))
			assert.ErrorIs(t, err, ErrActiveCycleExists)

			assert.NoError(t, repo.CreateCycle(ctx, newCycle(43)))
		})

		t.Run("completed cycles do not block a new one", func(t *testing.T) {
			repo, cleanup := setupTest()
			defer cleanup()

			ctx, cancel := createContext()
			defer cancel()

			first := newCycle(42)
			require.NoError(t, repo.CreateCycle(ctx, first))
			_, err := repo.UpdateCycle(ctx, first.ID, models.CycleUpdate{Status: models.Set(models.StatusCompleted)})
			require.NoError(t, err)

			assert.NoError(t, repo.CreateCycle(ctx, newCycle(42)))
		})
	})

	t.Run("ListActiveCycles", func(t *testing.T) {
		repo, cleanup := setupTest()
		defer cleanup()

		ctx, cancel := createContext()
		defer cancel()

		active := newCycle(1)
		require.NoError(t, repo.CreateCycle(ctx, active))
		done := newCycle(2)
		done.Status = models.StatusCompleted
		require.NoError(t, repo.CreateCycle(ctx, done))

		cycles, err := repo.ListActiveCycles(ctx)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		assert.Equal(t, active.ID, cycles[0].ID)
	})

	t.Run("UpdateCycle", func(t *testing.T) {
		repo, cleanup := setupTest()
		defer cleanup()

		ctx, cancel := createContext()
		defer cancel()

		c := newCycle(7)
		require.NoError(t, repo.CreateCycle(ctx, c))

		start := time.Now().UTC().Truncate(time.Millisecond)
		bookID := primitive.NewObjectID()
		modified, err := repo.UpdateCycle(ctx, c.ID, models.CycleUpdate{
			CurrentPhase:   models.Set(models.PhaseReading),
			SelectedBookID: models.Set(bookID),
			Timings: map[models.Phase]models.PhaseTiming{
				models.PhaseReading: {StartDate: &start},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), modified)

		got, err := repo.GetCycleByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseReading, got.CurrentPhase)
		require.NotNil(t, got.SelectedBookID)
		assert.Equal(t, bookID, *got.SelectedBookID)
		require.NotNil(t, got.Timing(models.PhaseReading).StartDate)
		assert.Equal(t, start, got.Timing(models.PhaseReading).StartDate.UTC())

		_, err = repo.UpdateCycle(ctx, c.ID, models.CycleUpdate{SelectedBookID: models.Unset[primitive.ObjectID]()})
		require.NoError(t, err)

		got, err = repo.GetCycleByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SelectedBookID)
		assert.Equal(t, models.PhaseReading, got.CurrentPhase)

		var raw bson.M
		err = repo.db.Collection(cycles_collection).FindOne(ctx, bson.M{"_id": c.ID}).Decode(&raw)
		require.NoError(t, err)
		assert.NotContains(t, raw, "selectedBookId", "unset must remove the field, not store null")
	})

	t.Run("GetCycleByID not found", func(t *testing.T) {
		repo, cleanup := setupTest()
		defer cleanup()

		ctx, cancel := createContext()
		defer cancel()

		c, err := repo.GetCycleByID(ctx, primitive.NewObjectID())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, errors.Is(err, mongo.ErrNoDocuments))
		assert.Nil(t, c)
	})
}
