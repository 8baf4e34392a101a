package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hankgalt/catalog-crawl/internal/clients/mongodb"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

// Error constants and variables
const (
	ErrMsgMongoSinkNil                = "mongo sink is nil"
	ErrMsgMongoSinkNilClient          = "mongo sink: nil client"
	ErrMsgMongoSinkEmptyCollection    = "mongo sink: empty collection"
	ErrMsgMongoSinkDBProtocolRequired = "mongo sink: DB protocol is required"
	ErrMsgMongoSinkDBHostRequired     = "mongo sink: DB host is required"
	ErrMsgMongoSinkDBNameRequired     = "mongo sink: DB name is required"
)

var (
	ErrMongoSinkNil                = errors.New(ErrMsgMongoSinkNil)
	ErrMongoSinkNilClient          = errors.New(ErrMsgMongoSinkNilClient)
	ErrMongoSinkEmptyCollection    = errors.New(ErrMsgMongoSinkEmptyCollection)
	ErrMongoSinkDBProtocolRequired = errors.New(ErrMsgMongoSinkDBProtocolRequired)
	ErrMongoSinkDBHostRequired     = errors.New(ErrMsgMongoSinkDBHostRequired)
	ErrMongoSinkDBNameRequired     = errors.New(ErrMsgMongoSinkDBNameRequired)
)

const MongoSink = "mongo-sink"

// MongoProductWriter is the tiny capability we need.
type MongoProductWriter interface {
	UpsertProducts(ctx context.Context, collectionName string, docs []mongodb.ProductDoc) (int64, error)
	Close(ctx context.Context) error
}

// MongoDB mirror sink.
type mongoSink struct {
	client     MongoProductWriter
	collection string
}

// Name returns the name of the mongo sink.
func (s *mongoSink) Name() string { return MongoSink }

// Write upserts the batch records keyed by product id.
func (s *mongoSink) Write(ctx context.Context, b *domain.Batch) error {
	if s == nil {
		return ErrMongoSinkNil
	}
	if s.client == nil {
		return ErrMongoSinkNilClient
	}
	if s.collection == "" {
		return ErrMongoSinkEmptyCollection
	}
	if b == nil || len(b.Records) == 0 {
		return nil // nothing to write
	}

	now := time.Now().UTC()
	docs := make([]mongodb.ProductDoc, 0, len(b.Records))
	for _, rec := range b.Records {
		if rec == nil || rec.ID == nil {
			continue
		}
		docs = append(docs, mongodb.NewProductDoc(rec, b.Index, now))
	}

	if _, err := s.client.UpsertProducts(ctx, s.collection, docs); err != nil {
		return fmt.Errorf("mongo sink: batch %d: %w", b.Index, err)
	}
	return nil
}

// Close closes the mongo sink.
func (s *mongoSink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// MongoDB sink config.
type MongoSinkConfig struct {
	Protocol   string // e.g., "mongodb", "mongodb+srv"
	Host       string // e.g., "localhost:27017"
	DBName     string // e.g., "catalog"
	User       string // MongoDB user
	Pwd        string // MongoDB password
	Params     string // e.g., "?retryWrites=true&w=majority"
	Collection string
}

// Name of the sink.
func (c MongoSinkConfig) Name() string { return MongoSink }

// BuildSink builds a MongoDB sink from the config.
func (c MongoSinkConfig) BuildSink(ctx context.Context) (domain.Sink, error) {
	if c.Protocol == "" {
		return nil, ErrMongoSinkDBProtocolRequired
	}
	if c.Host == "" {
		return nil, ErrMongoSinkDBHostRequired
	}
	if c.DBName == "" {
		return nil, ErrMongoSinkDBNameRequired
	}
	if c.Collection == "" {
		return nil, ErrMongoSinkEmptyCollection
	}

	mCl, err := mongodb.NewMongoStore(ctx, mongodb.MongoConfig{
		Protocol: c.Protocol,
		Host:     c.Host,
		User:     c.User,
		Pwd:      c.Pwd,
		Params:   c.Params,
		DBName:   c.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("mongo sink: create store: %w", err)
	}

	return &mongoSink{
		client:     mCl,
		collection: c.Collection,
	}, nil
}
