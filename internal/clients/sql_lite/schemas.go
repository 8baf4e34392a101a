package sqllite

import (
	"encoding/json"
	"fmt"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const ProductTable = "product"

type Product struct {
	ProductID   string `db:"product_id"`
	Name        string `db:"name"`
	URLKey      string `db:"url_key"`
	Price       string `db:"price"`
	Description string `db:"description"`
	Images      string `db:"images"`
	BatchIndex  int    `db:"batch_index"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

var ProductSchema = `
	CREATE TABLE IF NOT EXISTS product (
	product_id  TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	url_key     TEXT NOT NULL DEFAULT '',
	price       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	images      TEXT NOT NULL DEFAULT '[]',
	batch_index INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
	);

	CREATE TRIGGER IF NOT EXISTS product_updated_at
	AFTER UPDATE ON product
	FOR EACH ROW
	WHEN NEW.updated_at = OLD.updated_at
	BEGIN
	UPDATE product SET updated_at = CURRENT_TIMESTAMP
	WHERE product_id = OLD.product_id;
	END;
`

// MapProductRecord flattens a normalized product into a table row.
// Products without an id cannot be keyed and map to nil.
func MapProductRecord(p *domain.Product, batchIndex int) *Product {
	if p == nil || p.ID == nil {
		return nil
	}

	images := "[]"
	if len(p.Images) > 0 {
		if b, err := json.Marshal(p.Images); err == nil {
			images = string(b)
		}
	}

	return &Product{
		ProductID:   scalarText(p.ID),
		Name:        scalarText(p.Name),
		URLKey:      scalarText(p.URLKey),
		Price:       scalarText(p.Price),
		Description: p.Description,
		Images:      images,
		BatchIndex:  batchIndex,
	}
}

// scalarText renders a verbatim JSON value as column text.
func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
