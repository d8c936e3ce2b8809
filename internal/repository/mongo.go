package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fleet-sync/internal/models"
	"fleet-sync/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 10 * time.Second

// NewMongoRepository stores records in db. The database must have been opened
// with database.Connect so documents carry the API field names.
func NewMongoRepository(db *mongo.Database) *Repository {
	counters := db.Collection(database.CollectionCounters)
	return &Repository{
		Drivers:  newMongoTable(db.Collection(database.CollectionDrivers), counters, driverID),
		Vehicles: newMongoTable(db.Collection(database.CollectionVehicles), counters, vehicleID),
		Reports:  newMongoTable(db.Collection(database.CollectionReports), counters, reportID),
		Users: &mongoUsers{
			collection: db.Collection(database.CollectionUsers),
			counters:   counters,
		},
		ping: func(ctx context.Context) error {
			return database.Health(ctx, db)
		},
		close: func(ctx context.Context) error {
			return database.Disconnect(ctx, db.Client())
		},
	}
}

type mongoTable[T any] struct {
	collection *mongo.Collection
	counters   *mongo.Collection
	id         func(*T) *string
}

func newMongoTable[T any](collection, counters *mongo.Collection, id func(*T) *string) *mongoTable[T] {
	return &mongoTable[T]{collection: collection, counters: counters, id: id}
}

func (t *mongoTable[T]) List(ctx context.Context) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// _id is an ObjectID assigned on insert, so it sorts in creation order.
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := t.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []T{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (t *mongoTable[T]) Get(ctx context.Context, id string) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record T
	err := t.collection.FindOne(ctx, bson.M{"id": id}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return record, ErrNotFound
	}
	return record, err
}

func (t *mongoTable[T]) Create(ctx context.Context, record T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id, err := nextID(ctx, t.counters, t.collection.Name())
	if err != nil {
		return record, err
	}
	*t.id(&record) = id

	if _, err := t.collection.InsertOne(ctx, record); err != nil {
		return record, mapWriteError(err)
	}
	return record, nil
}

func (t *mongoTable[T]) Update(ctx context.Context, id string, record T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	*t.id(&record) = id
	result, err := t.collection.ReplaceOne(ctx, bson.M{"id": id}, record)
	if err != nil {
		return record, mapWriteError(err)
	}
	if result.MatchedCount == 0 {
		return record, ErrNotFound
	}
	return record, nil
}

func (t *mongoTable[T]) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := t.collection.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// userDocument stores the password hash, which the json encoding of
// models.User leaves out.
type userDocument struct {
	models.Identity `bson:",inline"`
	PasswordHash    string `bson:"motDePasse"`
}

type mongoUsers struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func (u *mongoUsers) ByEmail(ctx context.Context, email string) (models.User, error) {
	return u.findOne(ctx, bson.M{"email": email})
}

func (u *mongoUsers) ByID(ctx context.Context, id string) (models.User, error) {
	return u.findOne(ctx, bson.M{"id": id})
}

func (u *mongoUsers) findOne(ctx context.Context, filter bson.M) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc userDocument
	err := u.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return models.User{Identity: doc.Identity, Password: doc.PasswordHash}, nil
}

func (u *mongoUsers) Create(ctx context.Context, user models.User) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id, err := nextID(ctx, u.counters, u.collection.Name())
	if err != nil {
		return models.User{}, err
	}
	user.ID = id

	doc := userDocument{Identity: user.Identity, PasswordHash: user.Password}
	if _, err := u.collection.InsertOne(ctx, doc); err != nil {
		return models.User{}, mapWriteError(err)
	}
	return user, nil
}

// nextID increments the counter of a collection and returns its new value.
func nextID(ctx context.Context, counters *mongo.Collection, name string) (string, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}}, opts).Decode(&counter)
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return strconv.FormatInt(counter.Seq, 10), nil
}

func mapWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
