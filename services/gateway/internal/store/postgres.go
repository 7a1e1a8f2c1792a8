package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// PostgresStore loads orders from Postgres. Metadata reads and writes go
// straight to the database on every call: the ledgers read-modify-write
// whole JSON documents, so a stale cached value would lose updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get loads one order with its lines and refund requests. The returned
// order writes back through the same connection pool; ctx scopes all of its
// subsequent database calls.
func (s *PostgresStore) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	query := `
		SELECT id, currency, total, customer_ip, status, payment_id,
		       billing_first_name, billing_last_name, billing_company,
		       billing_address1, billing_address2, billing_city, billing_state,
		       billing_country, billing_postal_code, billing_phone, billing_email,
		       shipping_first_name, shipping_last_name, shipping_address1,
		       shipping_address2, shipping_city, shipping_state, shipping_country,
		       shipping_postal_code,
		       shipping_total, shipping_tax, received_url, view_url
		FROM orders
		WHERE id = $1
	`

	o := &pgOrder{db: s.db, ctx: ctx}
	var paymentID sql.NullString
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.id, &o.currency, &o.total, &o.customerIP, &o.status, &paymentID,
		&o.billing.FirstName, &o.billing.LastName, &o.billing.Company,
		&o.billing.Address1, &o.billing.Address2, &o.billing.City, &o.billing.State,
		&o.billing.Country, &o.billing.PostalCode, &o.billing.Phone, &o.billing.Email,
		&o.shipping.FirstName, &o.shipping.LastName, &o.shipping.Address1,
		&o.shipping.Address2, &o.shipping.City, &o.shipping.State, &o.shipping.Country,
		&o.shipping.PostalCode,
		&o.shippingTotal, &o.shippingTax, &o.receivedURL, &o.viewURL,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if paymentID.Valid {
		o.paymentID = paymentID.String
	}

	if err := o.loadLines(); err != nil {
		return nil, err
	}
	if err := o.loadRefunds(); err != nil {
		return nil, err
	}
	return o, nil
}

type pgOrder struct {
	db  *sql.DB
	ctx context.Context

	id            int64
	currency      string
	total         string
	customerIP    string
	status        string
	paymentID     string
	billing       domain.Address
	shipping      domain.Address
	shippingTotal string
	shippingTax   string
	receivedURL   string
	viewURL       string

	items   []domain.LineItem
	fees    []domain.FeeLine
	refunds []domain.Refund
}

func (o *pgOrder) ID() int64                       { return o.id }
func (o *pgOrder) Currency() string                { return o.currency }
func (o *pgOrder) Total() string                   { return o.total }
func (o *pgOrder) CustomerIP() string              { return o.customerIP }
func (o *pgOrder) Billing() domain.Address         { return o.billing }
func (o *pgOrder) ShippingAddress() domain.Address { return o.shipping }
func (o *pgOrder) Status() string                  { return o.status }
func (o *pgOrder) Items() []domain.LineItem        { return o.items }
func (o *pgOrder) Fees() []domain.FeeLine          { return o.fees }
func (o *pgOrder) ShippingTotal() string           { return o.shippingTotal }
func (o *pgOrder) ShippingTax() string             { return o.shippingTax }
func (o *pgOrder) Refunds() []domain.Refund        { return o.refunds }
func (o *pgOrder) ReceivedURL() string             { return o.receivedURL }
func (o *pgOrder) ViewURL() string                 { return o.viewURL }

func (o *pgOrder) MetaGet(key string) (string, bool) {
	query := `SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $2`
	var value string
	err := o.db.QueryRowContext(o.ctx, query, o.id, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (o *pgOrder) MetaSet(key, value string) error {
	query := `
		INSERT INTO order_meta (order_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
	`
	if _, err := o.db.ExecContext(o.ctx, query, o.id, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s on order %d: %w", key, o.id, err)
	}
	return nil
}

func (o *pgOrder) AddNote(note string) error {
	query := `INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, NOW())`
	if _, err := o.db.ExecContext(o.ctx, query, o.id, note); err != nil {
		return fmt.Errorf("failed to add note to order %d: %w", o.id, err)
	}
	return nil
}

func (o *pgOrder) UpdateStatus(status string) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
	if _, err := o.db.ExecContext(o.ctx, query, status, o.id); err != nil {
		return fmt.Errorf("failed to update status of order %d: %w", o.id, err)
	}
	o.status = status
	return nil
}

func (o *pgOrder) PaymentComplete(paymentID string) error {
	query := `
		UPDATE orders
		SET status = $1, payment_id = NULLIF($2, ''), paid_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`
	if _, err := o.db.ExecContext(o.ctx, query, domain.OrderStatusProcessing, paymentID, o.id); err != nil {
		return fmt.Errorf("failed to mark order %d paid: %w", o.id, err)
	}
	o.status = domain.OrderStatusProcessing
	o.paymentID = paymentID
	return nil
}

func (o *pgOrder) loadLines() error {
	query := `
		SELECT id, kind, name, quantity, total, total_tax
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := o.db.QueryContext(o.ctx, query, o.id)
	if err != nil {
		return fmt.Errorf("failed to load lines of order %d: %w", o.id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       int64
			kind     string
			name     string
			quantity int
			total    string
			totalTax string
		)
		if err := rows.Scan(&id, &kind, &name, &quantity, &total, &totalTax); err != nil {
			return fmt.Errorf("failed to scan line of order %d: %w", o.id, err)
		}
		switch kind {
		case "fee":
			o.fees = append(o.fees, domain.FeeLine{
				ID: id, Name: name, Quantity: quantity, Total: total, TotalTax: totalTax,
			})
		default:
			o.items = append(o.items, domain.LineItem{
				ID: id, Name: name, Quantity: quantity, Total: total, TotalTax: totalTax,
			})
		}
	}
	return rows.Err()
}

func (o *pgOrder) loadRefunds() error {
	query := `
		SELECT id, status, shipping_total, shipping_tax
		FROM order_refunds
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := o.db.QueryContext(o.ctx, query, o.id)
	if err != nil {
		return fmt.Errorf("failed to load refunds of order %d: %w", o.id, err)
	}
	defer rows.Close()

	var refundIDs []int64
	for rows.Next() {
		var r domain.Refund
		if err := rows.Scan(&r.ID, &r.Status, &r.ShippingTotal, &r.ShippingTax); err != nil {
			return fmt.Errorf("failed to scan refund of order %d: %w", o.id, err)
		}
		o.refunds = append(o.refunds, r)
		refundIDs = append(refundIDs, r.ID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(refundIDs) == 0 {
		return nil
	}

	lineQuery := `
		SELECT refund_id, id, kind, original_id, quantity, total, total_tax
		FROM order_refund_items
		WHERE refund_id = ANY($1)
		ORDER BY id
	`
	lineRows, err := o.db.QueryContext(o.ctx, lineQuery, pq.Array(refundIDs))
	if err != nil {
		return fmt.Errorf("failed to load refund lines of order %d: %w", o.id, err)
	}
	defer lineRows.Close()

	byRefund := make(map[int64]*domain.Refund, len(o.refunds))
	for i := range o.refunds {
		byRefund[o.refunds[i].ID] = &o.refunds[i]
	}

	for lineRows.Next() {
		var (
			refundID int64
			line     domain.RefundedLine
			kind     string
		)
		if err := lineRows.Scan(&refundID, &line.RefundItemID, &kind, &line.OriginalID,
			&line.Quantity, &line.Total, &line.TotalTax); err != nil {
			return fmt.Errorf("failed to scan refund line of order %d: %w", o.id, err)
		}
		refund, ok := byRefund[refundID]
		if !ok {
			continue
		}
		if kind == "fee" {
			refund.Fees = append(refund.Fees, line)
		} else {
			refund.Items = append(refund.Items, line)
		}
	}
	return lineRows.Err()
}
