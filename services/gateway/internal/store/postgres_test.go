package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// Postgres tests run only against a real database:
//
//	GATEWAY_TEST_DB_DSN=postgres://... go test ./...
//
// The schema from migrations/schema.sql must be applied first.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("GATEWAY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("GATEWAY_TEST_DB_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTestOrder(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO orders (currency, total, customer_ip, status, billing_first_name, billing_email)
		VALUES ('CAD', '46.00', '203.0.113.10', 'pending', 'Jean', 'jean@example.com')
		RETURNING id
	`).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM order_notes WHERE order_id = $1`, id)
		db.Exec(`DELETE FROM order_meta WHERE order_id = $1`, id)
		db.Exec(`DELETE FROM order_items WHERE order_id = $1`, id)
		db.Exec(`DELETE FROM orders WHERE id = $1`, id)
	})
	return id
}

func TestPostgresOrderRoundTrip(t *testing.T) {
	db := testDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	id := seedTestOrder(t, db)

	order, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, order.ID())
	assert.Equal(t, "CAD", order.Currency())
	assert.Equal(t, "46.00", order.Total())
	assert.Equal(t, "Jean", order.Billing().FirstName)

	// Metadata persists immediately and reads back through a fresh load.
	require.NoError(t, order.MetaSet(domain.MetaCloverOrderUUID, "ORD-UUID"))
	reloaded, err := s.Get(ctx, id)
	require.NoError(t, err)
	value, ok := reloaded.MetaGet(domain.MetaCloverOrderUUID)
	require.True(t, ok)
	assert.Equal(t, "ORD-UUID", value)

	// Upsert overwrites.
	require.NoError(t, order.MetaSet(domain.MetaCloverOrderUUID, "ORD-UUID-2"))
	value, _ = reloaded.MetaGet(domain.MetaCloverOrderUUID)
	assert.Equal(t, "ORD-UUID-2", value)

	require.NoError(t, order.AddNote("test note"))
	require.NoError(t, order.UpdateStatus(domain.OrderStatusFailed))
	assert.Equal(t, domain.OrderStatusFailed, order.Status())

	require.NoError(t, order.PaymentComplete("PAY1"))
	reloaded, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, reloaded.Status())
}

func TestPostgresOrderNotFound(t *testing.T) {
	db := testDB(t)
	s := NewPostgresStore(db)

	_, err := s.Get(context.Background(), 999999999)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
