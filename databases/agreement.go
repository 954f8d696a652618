package databases

// go generate: mockery --name AgreementDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/models"
)

const agreementCollectionName = "agreements"

// AgreementDatabase contains the methods to use with the agreement database
type AgreementDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.Agreement, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Agreement, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, agreement models.Agreement, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Agreement, error)
}

type agreementDatabase struct {
	db DatabaseHelper
}

// NewAgreementDatabase initializes a new instance of agreement database with the provided db connection
func NewAgreementDatabase(db DatabaseHelper) AgreementDatabase {
	return &agreementDatabase{
		db: db,
	}
}

func (a *agreementDatabase) FindOne(ctx context.Context, filter interface{}) (*models.Agreement, error) {
	agreement := &models.Agreement{}
	err := a.db.Collection(agreementCollectionName).FindOne(ctx, filter).Decode(&agreement)
	if err != nil {
		return nil, err
	}
	return agreement, nil
}

func (a *agreementDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Agreement, error) {
	var agreements []models.Agreement
	cur, err := a.db.Collection(agreementCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&agreements)
	if err != nil {
		return nil, err
	}
	return agreements, nil
}

func (a *agreementDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return a.db.Collection(agreementCollectionName).CountDocuments(ctx, filter, opts...)
}

func (a *agreementDatabase) InsertOne(ctx context.Context, agreement models.Agreement, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return a.db.Collection(agreementCollectionName).InsertOne(ctx, agreement, opts...)
}

func (a *agreementDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return a.db.Collection(agreementCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (a *agreementDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return a.db.Collection(agreementCollectionName).UpdateMany(ctx, filter, update, opts...)
}

func (a *agreementDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Agreement, error) {
	agreement := &models.Agreement{}
	err := a.db.Collection(agreementCollectionName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&agreement)
	if err != nil {
		return nil, err
	}
	return agreement, nil
}
