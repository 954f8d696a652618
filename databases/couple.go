package databases

// go generate: mockery --name CoupleDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/models"
)

const coupleCollectionName = "couples"

// CoupleDatabase contains the methods to use with the couple database
type CoupleDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.Couple, error)
	InsertOne(ctx context.Context, couple models.Couple, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Couple, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error
}

type coupleDatabase struct {
	db DatabaseHelper
}

// NewCoupleDatabase initializes a new instance of couple database with the provided db connection
func NewCoupleDatabase(db DatabaseHelper) CoupleDatabase {
	return &coupleDatabase{
		db: db,
	}
}

func (c *coupleDatabase) FindOne(ctx context.Context, filter interface{}) (*models.Couple, error) {
	couple := &models.Couple{}
	err := c.db.Collection(coupleCollectionName).FindOne(ctx, filter).Decode(&couple)
	if err != nil {
		return nil, err
	}
	return couple, nil
}

func (c *coupleDatabase) InsertOne(ctx context.Context, couple models.Couple, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return c.db.Collection(coupleCollectionName).InsertOne(ctx, couple, opts...)
}

func (c *coupleDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(coupleCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (c *coupleDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Couple, error) {
	couple := &models.Couple{}
	err := c.db.Collection(coupleCollectionName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&couple)
	if err != nil {
		return nil, err
	}
	return couple, nil
}

func (c *coupleDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) error {
	return c.db.Collection(coupleCollectionName).DeleteOne(ctx, filter, opts...)
}
