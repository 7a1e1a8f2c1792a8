package tender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/common/money"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/clover"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// Ledger reads and writes the custom tender collection stored on an order.
// The collection lives as one JSON document under a single metadata key, so
// every mutation is a read-modify-write of the whole list; the store
// serializes writers per order.
type Ledger struct {
	registry *Registry
	api      clover.API
	logger   *zap.Logger
}

// NewLedger creates the tender ledger.
func NewLedger(registry *Registry, api clover.API, logger *zap.Logger) *Ledger {
	return &Ledger{registry: registry, api: api, logger: logger}
}

// List returns the order's tenders in stored (settlement) order. A missing
// or empty metadata value is an empty ledger.
func (l *Ledger) List(order domain.Order) ([]domain.Tender, error) {
	raw, ok := order.MetaGet(domain.MetaCustomTenders)
	if !ok || raw == "" {
		return nil, nil
	}
	var tenders []domain.Tender
	if err := json.Unmarshal([]byte(raw), &tenders); err != nil {
		return nil, fmt.Errorf("corrupt tender ledger on order %d: %w", order.ID(), err)
	}
	return tenders, nil
}

// Get returns one tender by id.
func (l *Ledger) Get(order domain.Order, tenderID string) (*domain.Tender, error) {
	tenders, err := l.List(order)
	if err != nil {
		return nil, err
	}
	for i := range tenders {
		if tenders[i].ID == tenderID {
			return &tenders[i], nil
		}
	}
	return nil, domain.ErrTenderNotFound
}

// Add appends a new tender to the ledger and returns the stored record. A
// missing id is generated; the tender must carry a label, a positive amount,
// a registered callback, and must start pending.
func (l *Ledger) Add(order domain.Order, t domain.Tender) (domain.Tender, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Provider == "" {
		return domain.Tender{}, domain.Businessf("custom tender label must not be empty")
	}
	if t.Amount <= 0 {
		return domain.Tender{}, domain.Businessf("custom tender amount must be positive")
	}
	if t.Status == "" {
		t.Status = domain.TenderStatusPending
	}
	if t.Status != domain.TenderStatusPending {
		return domain.Tender{}, domain.Businessf("custom tender must be created in pending status, got %q", t.Status)
	}
	if _, ok := l.registry.Lookup(t.Callback); !ok {
		return domain.Tender{}, domain.Businessf("custom tender callback %q is not registered", t.Callback)
	}

	tenders, err := l.List(order)
	if err != nil {
		return domain.Tender{}, err
	}
	for _, existing := range tenders {
		if existing.ID == t.ID {
			return domain.Tender{}, domain.ErrDuplicateTenderID
		}
	}

	tenders = append(tenders, t)
	if err := l.save(order, tenders); err != nil {
		return domain.Tender{}, err
	}
	return t, nil
}

// Update replaces the stored tender with the same id, enforcing the status
// transition rules.
func (l *Ledger) Update(order domain.Order, t domain.Tender) error {
	tenders, err := l.List(order)
	if err != nil {
		return err
	}
	for i := range tenders {
		if tenders[i].ID != t.ID {
			continue
		}
		if tenders[i].Status != t.Status && !tenders[i].Status.CanTransition(t.Status) {
			return domain.Businessf("custom tender %s cannot move from %q to %q", t.ID, tenders[i].Status, t.Status)
		}
		tenders[i] = t
		return l.save(order, tenders)
	}
	return domain.ErrTenderNotFound
}

// MarkPaid records a successful settlement: status success plus the remote
// charge id.
func (l *Ledger) MarkPaid(order domain.Order, tenderID, chargeID string) error {
	t, err := l.Get(order, tenderID)
	if err != nil {
		return err
	}
	t.Status = domain.TenderStatusSuccess
	t.ChargeID = chargeID
	return l.Update(order, *t)
}

// MarkFailed records a failed settlement attempt.
func (l *Ledger) MarkFailed(order domain.Order, tenderID string) error {
	t, err := l.Get(order, tenderID)
	if err != nil {
		return err
	}
	t.Status = domain.TenderStatusFailed
	return l.Update(order, *t)
}

// Delete removes a tender that never settled. Settled tenders hold real
// money and must go through the refund path; refunded tenders are kept as
// history.
func (l *Ledger) Delete(order domain.Order, tenderID string) error {
	tenders, err := l.List(order)
	if err != nil {
		return err
	}
	for i := range tenders {
		if tenders[i].ID != tenderID {
			continue
		}
		switch tenders[i].Status {
		case domain.TenderStatusSuccess:
			return domain.Businessf("custom tender %s has a successful charge; use the refund tender function instead of deleting it", tenderID)
		case domain.TenderStatusRefunded:
			return domain.Businessf("custom tender %s is refunded and kept for history; it cannot be deleted", tenderID)
		}
		tenders = append(tenders[:i], tenders[i+1:]...)
		return l.save(order, tenders)
	}
	return domain.ErrTenderNotFound
}

// ListFiltered returns the order's tenders matching the given status and
// label; an empty filter matches everything.
func (l *Ledger) ListFiltered(order domain.Order, status domain.TenderStatus, label string) ([]domain.Tender, error) {
	tenders, err := l.List(order)
	if err != nil {
		return nil, err
	}
	var out []domain.Tender
	for _, t := range tenders {
		if status != "" && t.Status != status {
			continue
		}
		if label != "" && t.Provider != label {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// PendingTotal is the sum of the pending tender amounts, in cents. A
// non-empty label restricts the sum to tenders with that label.
func (l *Ledger) PendingTotal(order domain.Order, label string) (int64, error) {
	tenders, err := l.ListFiltered(order, domain.TenderStatusPending, label)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, t := range tenders {
		total += t.Amount
	}
	return total, nil
}

// SuccessfulTotal is the sum of all successfully settled tender amounts, in
// cents.
func (l *Ledger) SuccessfulTotal(order domain.Order) (int64, error) {
	tenders, err := l.List(order)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, t := range tenders {
		if t.Status == domain.TenderStatusSuccess {
			total += t.Amount
		}
	}
	return total, nil
}

// ExecuteChargeCreation runs the tender's charge-creation hook through the
// capability registry.
func (l *Ledger) ExecuteChargeCreation(ctx context.Context, order domain.Order, t domain.Tender, succeeded bool) {
	l.registry.ExecuteChargeCreation(ctx, order, t, succeeded)
}

// Refund refunds a settled tender's remote charge, validates the refund
// response field by field, records the transition and fires the tender's
// refund hook.
func (l *Ledger) Refund(ctx context.Context, order domain.Order, tenderID string) (*clover.RefundResult, error) {
	t, err := l.Get(order, tenderID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TenderStatusSuccess {
		return nil, domain.Businessf("custom tender %s is %q; only successful tenders can be refunded", tenderID, t.Status)
	}
	if t.ChargeID == "" {
		return nil, domain.Businessf("custom tender %s has no charge ID to refund", tenderID)
	}

	externalRef := fmt.Sprintf("wc_%d", order.ID())
	if len(externalRef) > 12 {
		externalRef = externalRef[:12]
	}

	result, err := l.api.RefundCharge(ctx, t.ChargeID, clover.RefundReasonRequestedByCustomer, externalRef, t.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to refund tender %s charge %s: %w", tenderID, t.ChargeID, err)
	}

	// Validate the refund object field by field before touching the ledger:
	// a partial or mismatched response must not flip the tender state.
	if result.Object != "refund" {
		return nil, fmt.Errorf("unexpected refund object %q for tender %s", result.Object, tenderID)
	}
	if result.Status != clover.RefundStatusSucceeded {
		return nil, fmt.Errorf("refund for tender %s returned status %q", tenderID, result.Status)
	}
	if result.Amount != t.Amount {
		return nil, fmt.Errorf("refund amount %d does not match tender %s amount %d", result.Amount, tenderID, t.Amount)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("refund for tender %s is missing a refund ID", tenderID)
	}

	t.Status = domain.TenderStatusRefunded
	if err := l.Update(order, *t); err != nil {
		return nil, err
	}

	if err := order.AddNote(fmt.Sprintf(
		"Custom tender %s (%s) refunded: %s %s, refund ID %s.",
		t.ID, t.Provider, money.FormatCents(t.Amount), order.Currency(), result.ID)); err != nil {
		l.logger.Warn("failed to record tender refund note",
			zap.Int64("orderId", order.ID()),
			zap.String("tenderId", t.ID),
			zap.Error(err))
	}

	l.registry.ExecuteChargeRefund(ctx, order, *t)

	l.logger.Info("custom tender refunded",
		zap.Int64("orderId", order.ID()),
		zap.String("tenderId", t.ID),
		zap.String("chargeId", t.ChargeID),
		zap.String("refundId", result.ID),
		zap.Int64("amount", t.Amount))

	return result, nil
}

func (l *Ledger) save(order domain.Order, tenders []domain.Tender) error {
	raw, err := json.Marshal(tenders)
	if err != nil {
		return fmt.Errorf("failed to marshal tender ledger: %w", err)
	}
	if err := order.MetaSet(domain.MetaCustomTenders, string(raw)); err != nil {
		return fmt.Errorf("failed to persist tender ledger on order %d: %w", order.ID(), err)
	}
	return nil
}
