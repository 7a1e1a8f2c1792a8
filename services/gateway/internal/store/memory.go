// Package store provides order persistence: a Postgres-backed store for the
// service and a seedable in-memory store for tests and local development.
package store

import (
	"context"
	"sync"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// MemoryOrder is an in-memory domain.Order. Mutations are serialized with a
// mutex, mirroring the per-order write serialization of the real store.
type MemoryOrder struct {
	mu sync.Mutex

	OrderID       int64
	OrderCurrency string
	OrderTotal    string
	IP            string
	BillingAddr   domain.Address
	ShippingAddr  domain.Address
	OrderStatus   string

	Meta  map[string]string
	Notes []string

	LineItems     []domain.LineItem
	FeeLines      []domain.FeeLine
	Shipping      string
	ShippingTaxes string
	RefundList    []domain.Refund

	PaymentID string
	Paid      bool

	ReceivedPageURL string
	ViewPageURL     string
}

// NewMemoryOrder creates an order with sensible defaults for tests.
func NewMemoryOrder(id int64, currency, total string) *MemoryOrder {
	return &MemoryOrder{
		OrderID:       id,
		OrderCurrency: currency,
		OrderTotal:    total,
		IP:            "203.0.113.10",
		OrderStatus:   domain.OrderStatusPending,
		Meta:          make(map[string]string),
		Shipping:      "0.00",
		ShippingTaxes: "0.00",
	}
}

func (o *MemoryOrder) ID() int64                       { return o.OrderID }
func (o *MemoryOrder) Currency() string                { return o.OrderCurrency }
func (o *MemoryOrder) CustomerIP() string              { return o.IP }
func (o *MemoryOrder) Billing() domain.Address         { return o.BillingAddr }
func (o *MemoryOrder) ShippingAddress() domain.Address { return o.ShippingAddr }
func (o *MemoryOrder) Items() []domain.LineItem        { return o.LineItems }
func (o *MemoryOrder) Fees() []domain.FeeLine          { return o.FeeLines }
func (o *MemoryOrder) ShippingTotal() string           { return o.Shipping }
func (o *MemoryOrder) ShippingTax() string             { return o.ShippingTaxes }
func (o *MemoryOrder) ReceivedURL() string             { return o.ReceivedPageURL }
func (o *MemoryOrder) ViewURL() string                 { return o.ViewPageURL }

func (o *MemoryOrder) Total() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.OrderTotal
}

func (o *MemoryOrder) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.OrderStatus
}

func (o *MemoryOrder) MetaGet(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.Meta[key]
	return v, ok
}

func (o *MemoryOrder) MetaSet(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Meta[key] = value
	return nil
}

func (o *MemoryOrder) AddNote(note string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Notes = append(o.Notes, note)
	return nil
}

func (o *MemoryOrder) UpdateStatus(status string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OrderStatus = status
	return nil
}

func (o *MemoryOrder) PaymentComplete(paymentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Paid = true
	o.PaymentID = paymentID
	o.OrderStatus = domain.OrderStatusProcessing
	return nil
}

// Refunds returns the refund requests, most recent first.
func (o *MemoryOrder) Refunds() []domain.Refund {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Refund, len(o.RefundList))
	copy(out, o.RefundList)
	return out
}

// MemoryStore keeps orders in a map. Used by tests and the local dev mode.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[int64]*MemoryOrder
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[int64]*MemoryOrder)}
}

// Put seeds an order.
func (s *MemoryStore) Put(order *MemoryOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = order
}

// Get loads an order by id.
func (s *MemoryStore) Get(_ context.Context, id int64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}
