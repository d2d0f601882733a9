package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("catalog: not found")

type Repo struct{ DB *pgxpool.Pool }

const productCols = `id, name, name_arabic, description, price_cents, images, colors, quantity, category_id, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var colors []byte
	err := row.Scan(&p.ID, &p.Name, &p.NameArabic, &p.Description, &p.PriceCents,
		&p.Images, &colors, &p.Quantity, &p.CategoryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if len(colors) > 0 {
		if err := json.Unmarshal(colors, &p.Colors); err != nil {
			return Product{}, fmt.Errorf("decode colors: %w", err)
		}
	}
	return p, nil
}

func (r *Repo) loadSizes(ctx context.Context, productIDs []string) (map[string][]SizeStock, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_id, size, quantity FROM product_sizes
	             WHERE product_id = ANY($1) ORDER BY product_id, position`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]SizeStock{}
	for rows.Next() {
		var pid string
		var s SizeStock
		if err := rows.Scan(&pid, &s.Size, &s.Quantity); err != nil {
			return nil, err
		}
		out[pid] = append(out[pid], s)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	sizes, err := r.loadSizes(ctx, []string{id})
	if err != nil {
		return Product{}, err
	}
	p.Sizes = sizes[id]
	return p, nil
}

// GetProducts bulk-fetches products by id; missing ids are simply absent from
// the result map. Checkout uses this to recompute authoritative prices.
func (r *Repo) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	found := make([]string, 0, len(out))
	for id := range out {
		found = append(found, id)
	}
	sizes, err := r.loadSizes(ctx, found)
	if err != nil {
		return nil, err
	}
	for id, p := range out {
		p.Sizes = sizes[id]
		out[id] = p
	}
	return out, nil
}

func (r *Repo) ListRecent(ctx context.Context, limit int) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ListByCategory(ctx context.Context, categoryID string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE category_id=$1 ORDER BY created_at DESC`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProduct writes the product, its size slots, and the category
// back-reference in one transaction. The category link is an explicit step
// here, not a storage-layer trigger.
func (r *Repo) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	total := 0
	for _, s := range p.Sizes {
		total += s.Quantity
	}
	p.Quantity = total

	colors, err := json.Marshal(p.Colors)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO products(id, name, name_arabic, description, price_cents, images, colors, quantity, category_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Name, p.NameArabic, p.Description, p.PriceCents, p.Images, colors, p.Quantity, p.CategoryID)
	if err != nil {
		return err
	}
	for i, s := range p.Sizes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_sizes(product_id, size, quantity, position)
			VALUES ($1,$2,$3,$4)`, p.ID, s.Size, s.Quantity, i); err != nil {
			return err
		}
	}
	if p.CategoryID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE categories SET product_ids = array_append(product_ids, $2)
			WHERE id=$1 AND NOT (product_ids @> ARRAY[$2])`, p.CategoryID, p.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateProduct rewrites mutable fields. If the category changed, both the
// old and the new category's product lists are adjusted in the same
// transaction. Stock counters are not touched here; that is the ledger's job.
func (r *Repo) UpdateProduct(ctx context.Context, p *Product) error {
	colors, err := json.Marshal(p.Colors)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldCategory string
	err = tx.QueryRow(ctx, `SELECT category_id FROM products WHERE id=$1 FOR UPDATE`, p.ID).Scan(&oldCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE products SET name=$2, name_arabic=$3, description=$4, price_cents=$5,
		       images=$6, colors=$7, category_id=$8, updated_at=now()
		WHERE id=$1`,
		p.ID, p.Name, p.NameArabic, p.Description, p.PriceCents, p.Images, colors, p.CategoryID)
	if err != nil {
		return err
	}

	if oldCategory != p.CategoryID {
		if oldCategory != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE categories SET product_ids = array_remove(product_ids, $2) WHERE id=$1`,
				oldCategory, p.ID); err != nil {
				return err
			}
		}
		if p.CategoryID != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE categories SET product_ids = array_append(product_ids, $2)
				WHERE id=$1 AND NOT (product_ids @> ARRAY[$2])`, p.CategoryID, p.ID); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// DeleteProduct clears the category back-reference before removing the
// product and its size slots.
func (r *Repo) DeleteProduct(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var categoryID string
	err = tx.QueryRow(ctx, `SELECT category_id FROM products WHERE id=$1 FOR UPDATE`, id).Scan(&categoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if categoryID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE categories SET product_ids = array_remove(product_ids, $2) WHERE id=$1`,
			categoryID, id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM product_sizes WHERE product_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetCategory(ctx context.Context, id string) (Category, error) {
	var c Category
	err := r.DB.QueryRow(ctx, `SELECT id, name, name_arabic, product_ids, created_at FROM categories WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.NameArabic, &c.ProductIDs, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	return c, err
}

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, name_arabic, product_ids, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.NameArabic, &c.ProductIDs, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) CreateCategory(ctx context.Context, c *Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ProductIDs == nil {
		c.ProductIDs = []string{}
	}
	_, err := r.DB.Exec(ctx, `INSERT INTO categories(id, name, name_arabic, product_ids) VALUES ($1,$2,$3,$4)`,
		c.ID, c.Name, c.NameArabic, c.ProductIDs)
	return err
}
