package testing

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const default_mongo_uri = "mongodb://localhost:27017"

// MongoURI returns the server used by integration tests. MONGO_TEST_URI overrides the default.
func MongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return default_mongo_uri
}

func CreateTestMongoDB(t *testing.T) (*mongo.Database, func()) {
	// Context for initial connection
	connectionCtx, connectionCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connectionCancel()

	client, err := mongo.Connect(connectionCtx, options.Client().ApplyURI(MongoURI()))
	require.NoError(t, err)

	err = client.Ping(connectionCtx, nil)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	testDB := client.Database("chapters_test_db")

	return testDB, func() {
		// Use a fresh context for disconnection
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()

		err := testDB.Drop(disconnectCtx)
		if err != nil {
			t.Logf("Error dropping test database: %v", err)
		}

		err = client.Disconnect(disconnectCtx)
		if err != nil {
			t.Logf("Error disconnecting from MongoDB: %v", err)
		}
	}
}

func DropCollection(db *mongo.Database, name string) {
	dropCtx, dropCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dropCancel()
	db.Collection(name).Drop(dropCtx)
}

// MongoAvailable reports whether the integration test server answers a ping.
func MongoAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(MongoURI()))
	if err != nil {
		return false
	}
	defer client.Disconnect(ctx)

	return client.Ping(ctx, nil) == nil
}
