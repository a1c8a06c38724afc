package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	ErrNilDatabase = errors.New("database connection is nil")
	ErrNotFound    = errors.New("document not found")
	// ErrActiveCycleExists is returned when a group already has an active cycle.
	ErrActiveCycleExists = errors.New("group already has an active cycle")
)

func InitMongoDB(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	//test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client.Database(dbName), nil
}

// Store groups every repository behind one value so it satisfies the
// consumer-side interfaces of the cycle, scheduler and club packages.
type Store struct {
	db *mongo.Database
	*CycleRepository
	*SuggestionRepository
	*MemberRepository
	*SettingsRepository
}

func NewStore(db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	cycles, err := NewCycleRepository(db)
	if err != nil {
		return nil, err
	}
	suggestions, err := NewSuggestionRepository(db)
	if err != nil {
		return nil, err
	}
	members, err := NewMemberRepository(db)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(db)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:                   db,
		CycleRepository:      cycles,
		SuggestionRepository: suggestions,
		MemberRepository:     members,
		SettingsRepository:   settings,
	}, nil
}

// EnsureIndexes creates the indexes every repository relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.CycleRepository.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := s.SuggestionRepository.EnsureIndexes(ctx); err != nil {
		return err
	}
	return s.MemberRepository.EnsureIndexes(ctx)
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}
