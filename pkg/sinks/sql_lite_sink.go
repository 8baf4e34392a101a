package sinks

import (
	"context"
	"errors"
	"fmt"

	sqllite "github.com/hankgalt/catalog-crawl/internal/clients/sql_lite"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

// Error constants and variables
const (
	ERR_SQLLITE_SINK_NIL              = "sql-lite sink is nil"
	ERR_SQLLITE_SINK_NIL_CLIENT       = "sql-lite sink: nil client"
	ERR_SQLLITE_SINK_DB_FILE_REQUIRED = "sql-lite sink: DB file is required"
)

var (
	ErrSQLLiteSinkNil            = errors.New(ERR_SQLLITE_SINK_NIL)
	ErrSQLLiteSinkNilClient      = errors.New(ERR_SQLLITE_SINK_NIL_CLIENT)
	ErrSQLLiteSinkDBFileRequired = errors.New(ERR_SQLLITE_SINK_DB_FILE_REQUIRED)
)

const SQLLiteSink = "sql-lite-sink"

// SQLLiteProductWriter is the tiny capability we need.
type SQLLiteProductWriter interface {
	UpsertProducts(ctx context.Context, rows []*sqllite.Product) (int64, error)
	Close(ctx context.Context) error
}

// SQLLite mirror sink, upserts every flushed product into the product table.
type sqlLiteSink struct {
	client SQLLiteProductWriter
}

// Name returns the name of the SQLLite sink.
func (s *sqlLiteSink) Name() string { return SQLLiteSink }

// Close closes the SQLLite sink.
func (s *sqlLiteSink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// Write upserts the batch records. Records without an id are skipped.
func (s *sqlLiteSink) Write(ctx context.Context, b *domain.Batch) error {
	if s == nil {
		return ErrSQLLiteSinkNil
	}
	if s.client == nil {
		return ErrSQLLiteSinkNilClient
	}
	if b == nil || len(b.Records) == 0 {
		return nil // nothing to write
	}

	rows := make([]*sqllite.Product, 0, len(b.Records))
	for _, rec := range b.Records {
		if row := sqllite.MapProductRecord(rec, b.Index); row != nil {
			rows = append(rows, row)
		}
	}

	if _, err := s.client.UpsertProducts(ctx, rows); err != nil {
		return fmt.Errorf("sql-lite sink: batch %d: %w", b.Index, err)
	}
	return nil
}

// SQLLiteDB sink config.
type SQLLiteSinkConfig struct {
	DBFile string // e.g., "data/catalog.db"
}

// Name of the sink.
func (c SQLLiteSinkConfig) Name() string { return SQLLiteSink }

// BuildSink connects to the DB file and makes sure the product table exists.
func (c SQLLiteSinkConfig) BuildSink(ctx context.Context) (domain.Sink, error) {
	if c.DBFile == "" {
		return nil, ErrSQLLiteSinkDBFileRequired
	}

	dbClient, err := sqllite.NewSQLLiteDBClient(c.DBFile)
	if err != nil {
		return nil, err
	}
	if _, err := dbClient.ExecuteSchema(sqllite.ProductSchema); err != nil {
		_ = dbClient.Close(ctx)
		return nil, fmt.Errorf("sql-lite sink: schema: %w", err)
	}

	return &sqlLiteSink{
		client: dbClient,
	}, nil
}
