package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KilaBean/my-ecommerce-api/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

const variantColumns = `id, product_id, sku, price, stock, attributes`

func scanVariant(row pgx.Row) (catalog.Variant, error) {
	var (
		v     catalog.Variant
		attrs []byte
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price, &v.Stock, &attrs); err != nil {
		return catalog.Variant{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &v.Attributes); err != nil {
			return catalog.Variant{}, errors.Wrap(err, "unmarshal variant attributes")
		}
	}
	return v, nil
}

// ListProducts returns all active products with their variants.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, category, is_active
		 FROM products WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var (
		products []catalog.Product
		ids      []string
	)
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate products")
	}

	if err := r.attachVariants(ctx, products, ids); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *CatalogRepository) attachVariants(ctx context.Context, products []catalog.Product, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+variantColumns+` FROM product_variants
		 WHERE product_id = ANY($1) ORDER BY sku`, ids)
	if err != nil {
		return errors.Wrap(err, "list variants")
	}
	defer rows.Close()

	byProduct := make(map[string][]catalog.Variant, len(products))
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return errors.Wrap(err, "scan variant")
		}
		byProduct[v.ProductID] = append(byProduct[v.ProductID], v)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate variants")
	}

	for i := range products {
		products[i].Variants = byProduct[products[i].ID]
	}
	return nil
}

// GetProduct returns a single product with its variants, or
// catalog.ErrProductNotFound.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, category, is_active
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	products := []catalog.Product{p}
	if err := r.attachVariants(ctx, products, []string{p.ID}); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// Recommend returns up to limit other active products sharing the given
// product's category.
func (r *CatalogRepository) Recommend(ctx context.Context, productID string, limit int) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.description, p.category, p.is_active
		 FROM products p
		 JOIN products src ON src.id = $1
		 WHERE p.category = src.category AND p.id <> src.id AND p.is_active
		 ORDER BY p.name
		 LIMIT $2`, productID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recommend products")
	}
	defer rows.Close()

	var (
		products []catalog.Product
		ids      []string
	)
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate products")
	}

	if err := r.attachVariants(ctx, products, ids); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateProduct persists a product and its variants in one transaction.
func (r *CatalogRepository) CreateProduct(ctx context.Context, p *catalog.Product) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO products (id, name, description, category, is_active)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Description, p.Category, p.IsActive)
	if err != nil {
		return errors.Wrapf(err, "insert product %q", p.ID)
	}

	for _, v := range p.Variants {
		attrs, err := json.Marshal(v.Attributes)
		if err != nil {
			return errors.Wrap(err, "marshal variant attributes")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO product_variants (id, product_id, sku, price, stock, attributes)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			v.ID, p.ID, v.SKU, v.Price, v.Stock, attrs)
		if err != nil {
			return errors.Wrapf(err, "insert variant %q", v.SKU)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

// GetVariant returns a single variant, or catalog.ErrVariantNotFound.
func (r *CatalogRepository) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	v, err := scanVariant(r.pool.QueryRow(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, errors.Wrapf(err, "get variant %q", id)
	}
	return &v, nil
}

// SetStock replaces a variant's stock under an exclusive row lock so a
// concurrent checkout cannot interleave between read and write.
func (r *CatalogRepository) SetStock(ctx context.Context, variantID string, stock int) (*catalog.StockChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	change := catalog.StockChange{VariantID: variantID, NewStock: stock}
	err = tx.QueryRow(ctx,
		`SELECT product_id, sku, stock FROM product_variants
		 WHERE id = $1 FOR UPDATE`, variantID).
		Scan(&change.ProductID, &change.SKU, &change.OldStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, errors.Wrapf(err, "lock variant %q", variantID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE product_variants SET stock = $2 WHERE id = $1`, variantID, stock)
	if err != nil {
		return nil, errors.Wrapf(err, "update stock for %q", variantID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return &change, nil
}
