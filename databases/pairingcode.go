package databases

// go generate: mockery --name PairingCodeDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/models"
)

const pairingCodeCollectionName = "pairingCodes"

// PairingCodeDatabase contains the methods to use with the pairing code database
type PairingCodeDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.PairingCode, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, code models.PairingCode, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error)
}

type pairingCodeDatabase struct {
	db DatabaseHelper
}

// NewPairingCodeDatabase initializes a new instance of pairing code database with the provided db connection
func NewPairingCodeDatabase(db DatabaseHelper) PairingCodeDatabase {
	return &pairingCodeDatabase{
		db: db,
	}
}

func (c *pairingCodeDatabase) FindOne(ctx context.Context, filter interface{}) (*models.PairingCode, error) {
	code := &models.PairingCode{}
	err := c.db.Collection(pairingCodeCollectionName).FindOne(ctx, filter).Decode(&code)
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (c *pairingCodeDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.db.Collection(pairingCodeCollectionName).CountDocuments(ctx, filter, opts...)
}

func (c *pairingCodeDatabase) InsertOne(ctx context.Context, code models.PairingCode, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return c.db.Collection(pairingCodeCollectionName).InsertOne(ctx, code, opts...)
}

func (c *pairingCodeDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(pairingCodeCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (c *pairingCodeDatabase) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	return c.db.Collection(pairingCodeCollectionName).DeleteMany(ctx, filter, opts...)
}
