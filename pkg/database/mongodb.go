package database

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Collection names.
const (
	CollectionDrivers  = "chauffeurs"
	CollectionVehicles = "vehicules"
	CollectionReports  = "rapports"
	CollectionUsers    = "utilisateurs"
	CollectionCounters = "compteurs"
)

const defaultDatabase = "fleet_sync"

// Connect establishes a connection to MongoDB. Documents are encoded with
// their json field names so they match the API payloads.
func Connect(ctx context.Context, mongoURI string) (*mongo.Database, error) {
	// Parse the URI to extract database name
	cs, err := connstring.ParseAndValidate(mongoURI)
	if err != nil {
		return nil, fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	clientOptions := options.Client().
		ApplyURI(mongoURI).
		SetBSONOptions(&options.BSONOptions{UseJSONStructTags: true})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	glog.Infof("Successfully connected to MongoDB")

	dbName := cs.Database
	if dbName == "" {
		dbName = defaultDatabase
	}

	db := client.Database(dbName)

	if err := createIndexes(ctx, db); err != nil {
		glog.Warningf("Failed to create indexes: %v", err)
	}

	return db, nil
}

// createIndexes creates necessary indexes for all collections
func createIndexes(ctx context.Context, db *mongo.Database) error {
	byID := mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	for _, name := range []string{CollectionDrivers, CollectionReports} {
		if _, err := db.Collection(name).Indexes().CreateOne(ctx, byID); err != nil {
			return fmt.Errorf("%s indexes: %w", name, err)
		}
	}

	vehicleIndexes := []mongo.IndexModel{
		byID,
		{
			Keys:    bson.D{{Key: "immatriculation", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "chauffeurId", Value: 1}},
		},
	}
	if _, err := db.Collection(CollectionVehicles).Indexes().CreateMany(ctx, vehicleIndexes); err != nil {
		return fmt.Errorf("%s indexes: %w", CollectionVehicles, err)
	}

	userIndexes := []mongo.IndexModel{
		byID,
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection(CollectionUsers).Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("%s indexes: %w", CollectionUsers, err)
	}

	reportIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chauffeurId", Value: 1}}},
		{Keys: bson.D{{Key: "vehiculeId", Value: 1}}},
	}
	if _, err := db.Collection(CollectionReports).Indexes().CreateMany(ctx, reportIndexes); err != nil {
		return fmt.Errorf("%s indexes: %w", CollectionReports, err)
	}
	return nil
}

func Disconnect(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	glog.Infof("Disconnected from MongoDB")
	return nil
}

// Health checks the database connection health
func Health(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.Client().Ping(ctx, nil)
}
