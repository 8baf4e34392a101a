package sqllite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	ERR_SQLITE_DB_CONNECTION    = "sql-lite: error connecting to database"
	ERR_SQLITE_DB_DISCONNECTION = "sql-lite: error disconnecting from database"
)

var (
	ErrSqlLiteDBConn    = errors.New(ERR_SQLITE_DB_CONNECTION)
	ErrSqlLiteDBDisconn = errors.New(ERR_SQLITE_DB_DISCONNECTION)
)

const upsertProductQuery = `
	INSERT INTO product (product_id, name, url_key, price, description, images, batch_index)
	VALUES (:product_id, :name, :url_key, :price, :description, :images, :batch_index)
	ON CONFLICT(product_id) DO UPDATE SET
		name = excluded.name,
		url_key = excluded.url_key,
		price = excluded.price,
		description = excluded.description,
		images = excluded.images,
		batch_index = excluded.batch_index`

type SQLLiteDBClient struct {
	store *sqlx.DB
}

func NewSQLLiteDBClient(dbFile string) (*SQLLiteDBClient, error) {
	db, err := sqlx.Connect("sqlite3", dbFile)
	if err != nil {
		log.Println("sql-lite: error connecting to database:", err)
		return nil, ErrSqlLiteDBConn
	}
	// single writer
	db.SetMaxOpenConns(1)

	return &SQLLiteDBClient{
		store: db,
	}, nil
}

func (db *SQLLiteDBClient) ExecuteSchema(schema string) (sql.Result, error) {
	return db.store.Exec(schema)
}

func (db *SQLLiteDBClient) Close(ctx context.Context) error {
	if err := db.store.Close(); err != nil {
		log.Println("sql-lite: error closing database:", err)
		return ErrSqlLiteDBDisconn
	}
	return nil
}

// UpsertProducts writes rows in one transaction, replacing rows with the same product id.
func (db *SQLLiteDBClient) UpsertProducts(ctx context.Context, rows []*Product) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := db.store.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sql-lite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, upsertProductQuery)
	if err != nil {
		return 0, fmt.Errorf("sql-lite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		if row == nil {
			continue
		}
		res, err := stmt.ExecContext(ctx, row)
		if err != nil {
			return 0, fmt.Errorf("sql-lite: upsert %s: %w", row.ProductID, err)
		}
		c, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		n += c
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sql-lite: commit: %w", err)
	}
	return n, nil
}

func (db *SQLLiteDBClient) FetchProducts(ctx context.Context, offset, limit int) ([]Product, error) {
	products := []Product{}
	err := db.store.SelectContext(
		ctx,
		&products,
		"SELECT * FROM product ORDER BY batch_index, rowid LIMIT ? OFFSET ?",
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (db *SQLLiteDBClient) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := db.store.GetContext(ctx, &n, "SELECT COUNT(*) FROM product"); err != nil {
		return 0, err
	}
	return n, nil
}
