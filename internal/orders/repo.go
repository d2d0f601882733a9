package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("orders: not found")

type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id, session_id, payment_intent_id, items, total_cents, currency, payment_status,
	customer_info, shipping_address, provider_shipping, provider_customer_id,
	created_at, paid_at, cancelled_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var items, customer, shipping []byte
	err := row.Scan(&o.ID, &o.SessionID, &o.PaymentIntentID, &items, &o.TotalCents,
		&o.Currency, &o.Status, &customer, &shipping, &o.ProviderShipping,
		&o.ProviderCustomerID, &o.CreatedAt, &o.PaidAt, &o.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	return &o, nil
}

// Create persists a new order. Status is forced to pending; orders enter the
// store in no other state.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = StatusPending

	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return err
	}

	return r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, session_id, items, total_cents, currency, payment_status, customer_info, shipping_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		o.ID, o.SessionID, items, o.TotalCents, o.Currency, o.Status, customer, shipping,
	).Scan(&o.CreatedAt)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (r *Repo) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE session_id=$1`, sessionID))
}

func (r *Repo) ListByEmail(ctx context.Context, email string) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE customer_info->>'email' = $1 ORDER BY created_at DESC`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkPaidBySession is the synchronization point for payment confirmation.
// The UPDATE only matches while the order is still pending, so exactly one
// caller across all duplicate and racing deliveries observes won=true; that
// caller owns the inventory commit. Everyone else gets the current row back.
func (r *Repo) MarkPaidBySession(ctx context.Context, sessionID, intentID, providerCustomer string, providerShipping []byte) (*Order, bool, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET
			payment_status = $5,
			payment_intent_id = CASE WHEN $2 <> '' THEN $2 ELSE payment_intent_id END,
			provider_customer_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_customer_id END,
			provider_shipping = COALESCE($4, provider_shipping),
			paid_at = now()
		WHERE session_id = $1 AND payment_status = $6
		RETURNING `+orderCols,
		sessionID, intentID, providerCustomer, providerShipping, StatusPaid, StatusPending))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	// lost the race, or a genuine duplicate: report the row as it stands
	o, err = r.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}

// MarkPaidByIntent is the secondary confirmation path keyed by payment intent
// id. Same single-winner contract as MarkPaidBySession.
func (r *Repo) MarkPaidByIntent(ctx context.Context, intentID string) (*Order, bool, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET payment_status = $2, paid_at = now()
		WHERE payment_intent_id = $1 AND payment_status = $3
		RETURNING `+orderCols,
		intentID, StatusPaid, StatusPending))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	o, err = scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE payment_intent_id=$1`, intentID))
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}

// MarkFailedBySession flips a still-pending order to failed. Terminal orders
// are left untouched (applied=false) rather than overwritten.
func (r *Repo) MarkFailedBySession(ctx context.Context, sessionID string) (applied bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$2 WHERE session_id=$1 AND payment_status=$3`,
		sessionID, StatusFailed, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkFailedByIntent(ctx context.Context, intentID string) (applied bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$2 WHERE payment_intent_id=$1 AND payment_status=$3`,
		intentID, StatusFailed, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Cancel transitions a pending order to cancelled. Paid orders are financial
// history and cannot be cancelled here.
func (r *Repo) Cancel(ctx context.Context, id string) (applied bool, err error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$2, cancelled_at=now()
		WHERE id=$1 AND payment_status=$3`,
		id, StatusCancelled, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
