// Package charge manages the credit-card charge records stored on an order.
// Records exist only for successful charges; a refund flips the record's
// status but never removes it.
package charge

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// Ledger reads and writes the charge collection stored on an order. The
// collection is one JSON document under a single metadata key.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger creates the charge ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// List returns the order's charge records in recorded order.
func (l *Ledger) List(order domain.Order) ([]domain.CardCharge, error) {
	raw, ok := order.MetaGet(domain.MetaCharges)
	if !ok || raw == "" {
		return nil, nil
	}
	var charges []domain.CardCharge
	if err := json.Unmarshal([]byte(raw), &charges); err != nil {
		return nil, fmt.Errorf("corrupt charge ledger on order %d: %w", order.ID(), err)
	}
	return charges, nil
}

// Get returns one charge record by remote charge id.
func (l *Ledger) Get(order domain.Order, chargeID string) (*domain.CardCharge, error) {
	charges, err := l.List(order)
	if err != nil {
		return nil, err
	}
	for i := range charges {
		if charges[i].ChargeID == chargeID {
			return &charges[i], nil
		}
	}
	return nil, domain.ErrChargeNotFound
}

// Save appends a new successful charge record. The record must carry a
// charge id, a positive amount, a currency and status success; duplicate
// charge ids are rejected.
func (l *Ledger) Save(order domain.Order, c domain.CardCharge) error {
	if c.ChargeID == "" {
		return domain.Businessf("charge ID must not be empty")
	}
	if c.Amount <= 0 {
		return domain.Businessf("charge amount must be positive")
	}
	if c.Currency == "" {
		return domain.Businessf("charge currency must not be empty")
	}
	if c.Status != domain.ChargeStatusSuccess {
		return domain.Businessf("only successful charges are recorded, got status %q", c.Status)
	}

	charges, err := l.List(order)
	if err != nil {
		return err
	}
	for _, existing := range charges {
		if existing.ChargeID == c.ChargeID {
			return domain.ErrDuplicateCharge
		}
	}

	charges = append(charges, c)
	if err := l.save(order, charges); err != nil {
		return err
	}

	l.logger.Info("card charge recorded",
		zap.Int64("orderId", order.ID()),
		zap.String("chargeId", c.ChargeID),
		zap.Int64("amount", c.Amount),
		zap.String("currency", c.Currency))
	return nil
}

// MarkRefunded flips a charge record to refunded. Refunding an already
// refunded charge is an error.
func (l *Ledger) MarkRefunded(order domain.Order, chargeID string) error {
	charges, err := l.List(order)
	if err != nil {
		return err
	}
	for i := range charges {
		if charges[i].ChargeID != chargeID {
			continue
		}
		if charges[i].Status == domain.ChargeStatusRefunded {
			return domain.Businessf("charge %s is already refunded", chargeID)
		}
		charges[i].Status = domain.ChargeStatusRefunded
		return l.save(order, charges)
	}
	return domain.ErrChargeNotFound
}

// Projections returns the admin-facing view of the order's charges.
func (l *Ledger) Projections(order domain.Order) ([]domain.ChargeProjection, error) {
	charges, err := l.List(order)
	if err != nil {
		return nil, err
	}
	projections := make([]domain.ChargeProjection, 0, len(charges))
	for _, c := range charges {
		projections = append(projections, domain.ChargeProjection{
			ChargeID:   c.ChargeID,
			Amount:     c.Amount,
			Currency:   c.Currency,
			CardType:   c.CardType,
			PostalCode: c.PostalCode,
			Status:     c.Status,
		})
	}
	return projections, nil
}

func (l *Ledger) save(order domain.Order, charges []domain.CardCharge) error {
	raw, err := json.Marshal(charges)
	if err != nil {
		return fmt.Errorf("failed to marshal charge ledger: %w", err)
	}
	if err := order.MetaSet(domain.MetaCharges, string(raw)); err != nil {
		return fmt.Errorf("failed to persist charge ledger on order %d: %w", order.ID(), err)
	}
	return nil
}
