package readmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const accountsCollection = "bankAccounts"

type mongoDocument struct {
	ID          string               `bson:"_id"`
	AggregateID string               `bson:"aggregateId"`
	Email       string               `bson:"email"`
	Balance     primitive.Decimal128 `bson:"balance"`
	Currency    string               `bson:"currency"`
	Version     int                  `bson:"version"`
}

func toMongo(doc BankAccountDocument) (mongoDocument, error) {
	balance, err := primitive.ParseDecimal128(doc.Balance.String())
	if err != nil {
		return mongoDocument{}, fmt.Errorf("balance %s: %w", doc.Balance, err)
	}
	return mongoDocument{
		ID:          doc.ID,
		AggregateID: doc.AggregateID,
		Email:       doc.Email,
		Balance:     balance,
		Currency:    doc.Currency,
		Version:     doc.Version,
	}, nil
}

func (d mongoDocument) toDocument() (BankAccountDocument, error) {
	balance, err := decimal.NewFromString(d.Balance.String())
	if err != nil {
		return BankAccountDocument{}, fmt.Errorf("balance %s: %w", d.Balance, err)
	}
	return BankAccountDocument{
		ID:          d.ID,
		AggregateID: d.AggregateID,
		Email:       d.Email,
		Balance:     balance,
		Currency:    d.Currency,
		Version:     d.Version,
	}, nil
}

// MongoStore implements AccountReadStore on a MongoDB collection
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(accountsCollection)}
}

// ConnectMongo connects and pings a MongoDB deployment.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique aggregateId index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregateId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create aggregateId index: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, doc BankAccountDocument) error {
	md, err := toMongo(doc)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, md); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDocumentExists, doc.AggregateID)
		}
		return fmt.Errorf("insert document %s: %w", doc.AggregateID, err)
	}
	return nil
}

func (s *MongoStore) FindByAggregateID(ctx context.Context, aggregateID string) (*BankAccountDocument, error) {
	var md mongoDocument
	err := s.collection.FindOne(ctx, bson.M{"aggregateId": aggregateID}).Decode(&md)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, aggregateID)
		}
		return nil, fmt.Errorf("find document %s: %w", aggregateID, err)
	}
	doc, err := md.toDocument()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) Update(ctx context.Context, doc BankAccountDocument) error {
	balance, err := primitive.ParseDecimal128(doc.Balance.String())
	if err != nil {
		return fmt.Errorf("balance %s: %w", doc.Balance, err)
	}
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"aggregateId": doc.AggregateID},
		bson.M{"$set": bson.M{
			"email":    doc.Email,
			"balance":  balance,
			"currency": doc.Currency,
			"version":  doc.Version,
		}},
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.AggregateID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.AggregateID)
	}
	return nil
}

func (s *MongoStore) DeleteByAggregateID(ctx context.Context, aggregateID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"aggregateId": aggregateID}); err != nil {
		return fmt.Errorf("delete document %s: %w", aggregateID, err)
	}
	return nil
}

func (s *MongoStore) FindAll(ctx context.Context, page, size int) (*Page, error) {
	total, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "aggregateId", Value: 1}}).
		SetSkip(int64(page * size)).
		SetLimit(int64(size))
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var mds []mongoDocument
	if err := cursor.All(ctx, &mds); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}

	docs := make([]BankAccountDocument, 0, len(mds))
	for _, md := range mds {
		doc, err := md.toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return NewPage(docs, page, size, int(total)), nil
}
