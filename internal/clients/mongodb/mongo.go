package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	ErrMsgMongoMissingDBName            = "missing database name"
	ErrMsgMongoCollectionNameOrDocEmpty = "collection name and document cannot be empty"
)

var (
	ErrMongoMissingDBName            = errors.New(ErrMsgMongoMissingDBName)
	ErrMongoCollectionNameOrDocEmpty = errors.New(ErrMsgMongoCollectionNameOrDocEmpty)
)

// ProductDoc is the stored shape of a crawled product.
type ProductDoc struct {
	ProductID   any       `bson:"product_id"`
	Name        any       `bson:"name"`
	URLKey      any       `bson:"url_key"`
	Price       any       `bson:"price"`
	Description string    `bson:"description"`
	Images      []string  `bson:"images"`
	BatchIndex  int       `bson:"batch_index"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func NewProductDoc(p *domain.Product, batchIndex int, now time.Time) ProductDoc {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return ProductDoc{
		ProductID:   p.ID,
		Name:        p.Name,
		URLKey:      p.URLKey,
		Price:       p.Price,
		Description: p.Description,
		Images:      images,
		BatchIndex:  batchIndex,
		UpdatedAt:   now,
	}
}

type MongoStore struct {
	client *mongo.Client
	store  *mongo.Database
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.DBName == "" {
		return nil, ErrMongoMissingDBName
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	dbConnStr, err := cfg.URI()
	if err != nil {
		return nil, err
	}

	mOpts := options.Client().ApplyURI(
		dbConnStr,
	).SetReadPreference(
		readpref.Primary(),
	).SetMaxPoolSize(
		cfg.PoolSize,
	)

	cl, err := mongo.Connect(ctx, mOpts)
	if err != nil {
		return nil, err
	}

	if err = cl.Ping(ctx, nil); err != nil {
		if disconnectErr := cl.Disconnect(ctx); disconnectErr != nil {
			return nil, errors.Join(err, disconnectErr)
		}
		return nil, err
	}

	return &MongoStore{
		client: cl,
		store:  cl.Database(cfg.DBName),
	}, nil
}

// UpsertProducts replaces documents keyed by product_id in one unordered bulk write.
// created_at is only set on insert.
func (ms *MongoStore) UpsertProducts(ctx context.Context, collectionName string, docs []ProductDoc) (int64, error) {
	if collectionName == "" {
		return 0, ErrMongoCollectionNameOrDocEmpty
	}
	if len(docs) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"product_id": doc.ProductID}).
			SetUpdate(bson.M{
				"$set":         doc,
				"$setOnInsert": bson.M{"created_at": doc.UpdatedAt},
			}).
			SetUpsert(true))
	}

	coll := ms.store.Collection(collectionName)
	res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("error upserting documents into collection %s: %w", collectionName, err)
	}
	return res.UpsertedCount + res.ModifiedCount, nil
}

func (ms *MongoStore) CountProducts(ctx context.Context, collectionName string) (int64, error) {
	return ms.store.Collection(collectionName).CountDocuments(ctx, bson.M{})
}

func (ms *MongoStore) Close(ctx context.Context) error {
	if err := ms.client.Disconnect(ctx); err != nil && err != mongo.ErrClientDisconnected {
		return err
	}
	return nil
}
