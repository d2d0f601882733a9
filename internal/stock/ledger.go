// Package stock is the only writer of product quantity counters. Order code
// never touches stock columns directly.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientStock = errors.New("stock: insufficient quantity")
	ErrSizeNotFound      = errors.New("stock: size not found on product")
)

type Ledger struct{ DB *pgxpool.Pool }

// Decrement atomically reduces a size slot and the product aggregate. The
// size-slot update carries the availability guard in its WHERE clause, so two
// concurrent callers can never both take the last unit.
func (l *Ledger) Decrement(ctx context.Context, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("stock: invalid qty %d", qty)
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE product_sizes SET quantity = quantity - $3
		WHERE product_id=$1 AND size=$2 AND quantity >= $3`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// distinguish a missing slot from a shortfall
		var n int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM product_sizes WHERE product_id=$1 AND size=$2`,
			productID, size).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrSizeNotFound
		}
		return ErrInsufficientStock
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET quantity = quantity - $2, updated_at = now() WHERE id=$1`,
		productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Restore is the inverse of Decrement, used for admin restock and for
// releasing units taken from not-yet-finalized orders.
func (l *Ledger) Restore(ctx context.Context, productID, size string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("stock: invalid qty %d", qty)
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE product_sizes SET quantity = quantity + $3
		WHERE product_id=$1 AND size=$2`,
		productID, size, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSizeNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id=$1`,
		productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
