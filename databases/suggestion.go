package databases

// go generate: mockery --name SuggestionDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/evermore-labs/relate-api/models"
)

const suggestionCollectionName = "agreementSuggestions"

// SuggestionDatabase contains the methods to use with the suggestion database
type SuggestionDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.AgreementSuggestion, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.AgreementSuggestion, error)
	InsertOne(ctx context.Context, suggestion models.AgreementSuggestion, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.AgreementSuggestion, error)
}

type suggestionDatabase struct {
	db DatabaseHelper
}

// NewSuggestionDatabase initializes a new instance of suggestion database with the provided db connection
func NewSuggestionDatabase(db DatabaseHelper) SuggestionDatabase {
	return &suggestionDatabase{
		db: db,
	}
}

func (s *suggestionDatabase) FindOne(ctx context.Context, filter interface{}) (*models.AgreementSuggestion, error) {
	suggestion := &models.AgreementSuggestion{}
	err := s.db.Collection(suggestionCollectionName).FindOne(ctx, filter).Decode(&suggestion)
	if err != nil {
		return nil, err
	}
	return suggestion, nil
}

func (s *suggestionDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.AgreementSuggestion, error) {
	var suggestions []models.AgreementSuggestion
	cur, err := s.db.Collection(suggestionCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&suggestions)
	if err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (s *suggestionDatabase) InsertOne(ctx context.Context, suggestion models.AgreementSuggestion, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return s.db.Collection(suggestionCollectionName).InsertOne(ctx, suggestion, opts...)
}

func (s *suggestionDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return s.db.Collection(suggestionCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (s *suggestionDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.AgreementSuggestion, error) {
	suggestion := &models.AgreementSuggestion{}
	err := s.db.Collection(suggestionCollectionName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&suggestion)
	if err != nil {
		return nil, err
	}
	return suggestion, nil
}
