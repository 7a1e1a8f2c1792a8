// Package tender manages the custom tender ledger stored on an order and
// the capability callbacks invoked when a tender settles or is refunded.
package tender

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// Callback is a tender capability hook. Implementations are notified after a
// charge attempt and after a refund so they can settle the underlying
// instrument (burn gift card balance, restore loyalty points).
type Callback interface {
	// ChargeCreation is invoked after a charge attempt on the tender,
	// whether it succeeded or failed.
	ChargeCreation(ctx context.Context, order domain.Order, tender domain.Tender, succeeded bool)
	// ChargeRefund is invoked after the tender's charge is refunded.
	ChargeRefund(ctx context.Context, order domain.Order, tender domain.Tender)
}

// Registry holds the named tender capabilities. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
	logger    *zap.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		callbacks: make(map[string]Callback),
		logger:    logger,
	}
}

// Register adds a capability under a name. Registering an empty name, a nil
// callback or a duplicate name is an error.
func (r *Registry) Register(name string, cb Callback) error {
	if name == "" {
		return fmt.Errorf("tender callback name must not be empty")
	}
	if cb == nil {
		return fmt.Errorf("tender callback %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[name]; exists {
		return fmt.Errorf("tender callback %q already registered", name)
	}
	r.callbacks[name] = cb
	return nil
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[name]
	return cb, ok
}

// ExecuteChargeCreation runs the tender's charge-creation hook. A missing
// callback is logged and skipped; a panicking callback is recovered. Hook
// failures never interrupt payment processing.
func (r *Registry) ExecuteChargeCreation(ctx context.Context, order domain.Order, t domain.Tender, succeeded bool) {
	cb, ok := r.Lookup(t.Callback)
	if !ok {
		r.logger.Warn("tender callback not registered",
			zap.String("callback", t.Callback),
			zap.String("tenderId", t.ID),
			zap.Int64("orderId", order.ID()))
		return
	}
	defer r.recoverCallback(order, t, "charge creation")
	cb.ChargeCreation(ctx, order, t, succeeded)
}

// ExecuteChargeRefund runs the tender's refund hook with the same isolation
// as ExecuteChargeCreation.
func (r *Registry) ExecuteChargeRefund(ctx context.Context, order domain.Order, t domain.Tender) {
	cb, ok := r.Lookup(t.Callback)
	if !ok {
		r.logger.Warn("tender callback not registered",
			zap.String("callback", t.Callback),
			zap.String("tenderId", t.ID),
			zap.Int64("orderId", order.ID()))
		return
	}
	defer r.recoverCallback(order, t, "charge refund")
	cb.ChargeRefund(ctx, order, t)
}

func (r *Registry) recoverCallback(order domain.Order, t domain.Tender, hook string) {
	if rec := recover(); rec != nil {
		r.logger.Error("tender callback panicked",
			zap.String("hook", hook),
			zap.String("callback", t.Callback),
			zap.String("tenderId", t.ID),
			zap.Int64("orderId", order.ID()),
			zap.Any("panic", rec))
	}
}
