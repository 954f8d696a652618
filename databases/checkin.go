package databases

// go generate: mockery --name CheckInDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/models"
)

const checkInCollectionName = "checkIns"

// CheckInDatabase contains the methods to use with the check-in database.
// The public surface is append-only; DeleteOne exists only as the
// compensating action when the agreement reschedule after an insert fails.
type CheckInDatabase interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.CheckIn, error)
	InsertOne(ctx context.Context, checkIn models.CheckIn, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error
}

type checkInDatabase struct {
	db DatabaseHelper
}

// NewCheckInDatabase initializes a new instance of check-in database with the provided db connection
func NewCheckInDatabase(db DatabaseHelper) CheckInDatabase {
	return &checkInDatabase{
		db: db,
	}
}

func (c *checkInDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.CheckIn, error) {
	var checkIns []models.CheckIn
	cur, err := c.db.Collection(checkInCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&checkIns)
	if err != nil {
		return nil, err
	}
	return checkIns, nil
}

func (c *checkInDatabase) InsertOne(ctx context.Context, checkIn models.CheckIn, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return c.db.Collection(checkInCollectionName).InsertOne(ctx, checkIn, opts...)
}

func (c *checkInDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return c.db.Collection(checkInCollectionName).DeleteOne(ctx, filter, opts...)
}
