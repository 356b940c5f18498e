package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

// CollectionSurcharges holds one document per product type keyed by its id.
const CollectionSurcharges = "surcharges"

type surchargeDoc struct {
	ProductTypeID int                  `bson:"_id"`
	Surcharge     primitive.Decimal128 `bson:"surcharge"`
	CreatedAt     time.Time            `bson:"createdAt,omitempty"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

// MongoSurcharges stores surcharge rates in a MongoDB collection.
type MongoSurcharges struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo dials and pings the server behind uri.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// NewMongoSurcharges binds the surcharges collection of database.
func NewMongoSurcharges(client *mongo.Client, database string) *MongoSurcharges {
	return &MongoSurcharges{client: client, coll: client.Database(database).Collection(CollectionSurcharges)}
}

// UpsertRates writes the batch inside a multi-document transaction, so the
// deployment must be a replica set.
func (m *MongoSurcharges) UpsertRates(ctx context.Context, rates []surcharge.Rate) error {
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(rates))
	for _, rate := range rates {
		amount, err := primitive.ParseDecimal128(rate.Surcharge.String())
		if err != nil {
			return fmt.Errorf("surcharges.encode product type %d: %w", rate.ProductTypeID, err)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": rate.ProductTypeID}).
			SetUpdate(bson.M{
				"$set":         bson.M{"surcharge": amount, "updatedAt": now},
				"$setOnInsert": bson.M{"createdAt": now},
			}).
			SetUpsert(true))
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("surcharges.session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return m.coll.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return fmt.Errorf("surcharges.upsert: %w", err)
	}
	return nil
}

// GetSurcharge reads one rate.
func (m *MongoSurcharges) GetSurcharge(ctx context.Context, productTypeID int) (decimal.Decimal, bool, error) {
	var doc surchargeDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": productTypeID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.get: %w", err)
	}
	d, err := decimalFrom128(doc.Surcharge)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.get product type %d: %w", productTypeID, err)
	}
	return d, true, nil
}

// Ping checks connectivity to the primary.
func (m *MongoSurcharges) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *MongoSurcharges) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func decimalFrom128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}
