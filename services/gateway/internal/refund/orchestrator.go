// Package refund validates and submits order refunds. The remote API cannot
// refund a partial quantity or a partial tax amount on an individual line,
// so every refunded line must exactly mirror the original; the first
// mismatch found is reported, field by field, instead of aggregating.
package refund

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/common/events"
	"github.com/weeconnectpay/clover-gateway/common/messaging"
	"github.com/weeconnectpay/clover-gateway/common/money"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/charge"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/clover"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
)

// Config holds the orchestrator settings.
type Config struct {
	Production bool
	DBPrefix   string
	EventTopic string
}

// Orchestrator handles order refunds, per-charge refunds and per-tender
// refunds.
type Orchestrator struct {
	api       clover.API
	tenders   TenderLedger
	charges   *charge.Ledger
	publisher messaging.Publisher
	cfg       Config
	logger    *zap.Logger
}

// TenderLedger is the slice of the tender ledger the orchestrator needs: the
// list to enforce the no-tenders rule on order refunds, and the refund
// operation for per-tender refunds.
type TenderLedger interface {
	List(order domain.Order) ([]domain.Tender, error)
	Refund(ctx context.Context, order domain.Order, tenderID string) (*clover.RefundResult, error)
}

// New creates a refund orchestrator. publisher may be nil.
func New(api clover.API, tenders TenderLedger, charges *charge.Ledger, publisher messaging.Publisher, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		api:       api,
		tenders:   tenders,
		charges:   charges,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// RefundOrder validates the order's most recent refund request against the
// original lines and submits it remotely. amount is a positive decimal
// string in the order currency.
func (o *Orchestrator) RefundOrder(ctx context.Context, order domain.Order, amount, reason string) error {
	tenders, err := o.tenders.List(order)
	if err != nil {
		return err
	}
	// Any tender at all, whatever its status, disqualifies the standard
	// refund path: the remote ledger's correctness cannot be guaranteed when
	// several payment instruments are in play.
	if len(tenders) > 0 {
		return domain.Businessf("this order was paid with custom tenders; refund each charge individually from the order's charge list instead")
	}

	amountCents, err := money.ToCents(amount)
	if err != nil {
		return domain.Businessf("invalid refund amount %q", amount)
	}
	if amountCents <= 0 {
		return domain.Businessf("refund amount must be greater than zero")
	}

	refunds := order.Refunds()
	if len(refunds) == 0 {
		return domain.Businessf("order %d has no refund request to process", order.ID())
	}
	latest := refunds[0]
	if latest.Status == domain.RefundStatusRefunded {
		return domain.Businessf("refund %d has already been applied", latest.ID)
	}

	if reason == "" {
		reason = clover.RefundReasonRequestedByCustomer
	}
	switch reason {
	case clover.RefundReasonRequestedByCustomer, clover.RefundReasonDuplicate, clover.RefundReasonFraudulent:
	default:
		return domain.Businessf("refund reason must be one of requested_by_customer, duplicate or fraudulent")
	}

	payload, err := o.buildPayload(order, latest, amountCents, reason)
	if err != nil {
		return err
	}

	result, err := o.api.RefundOrder(ctx, *payload)
	if err != nil {
		return fmt.Errorf("order %d: %w", order.ID(), err)
	}

	switch result.Status {
	case clover.RefundStatusSucceeded:
		note := fmt.Sprintf("Refund of %s %s succeeded. Refund ID %s, charge %s.",
			money.FormatCents(result.Amount), order.Currency(), result.ID, result.Charge)
		if err := order.AddNote(note); err != nil {
			o.logger.Warn("failed to record refund note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
		o.publishRefund(ctx, order, result.ID, result.Charge, result.Amount, reason)

	case clover.RefundStatusReturned:
		var sb strings.Builder
		fmt.Fprintf(&sb, "Items returned for %s %s (return %s):",
			money.FormatCents(result.AmountReturned), order.Currency(), result.ID)
		for _, item := range result.Items {
			fmt.Fprintf(&sb, "<br>- %s: %s %s",
				item.Description, money.FormatCents(item.Amount), order.Currency())
		}
		if err := order.AddNote(sb.String()); err != nil {
			o.logger.Warn("failed to record return note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
		o.publishRefund(ctx, order, result.ID, "", result.AmountReturned, reason)

	default:
		return domain.Businessf("the refund was not applied: the charge appears to be already refunded")
	}

	o.logger.Info("order refund applied",
		zap.Int64("orderId", order.ID()),
		zap.String("refundId", result.ID),
		zap.String("status", result.Status))
	return nil
}

// buildPayload checks every refunded line against the original order and
// assembles the remote payload. Validation order per line: quantity, then
// pre-tax total, then tax.
func (o *Orchestrator) buildPayload(order domain.Order, refund domain.Refund, amountCents int64, reason string) (*clover.RefundPayload, error) {
	orderUUID, ok := order.MetaGet(domain.MetaCloverOrderUUID)
	if !ok || orderUUID == "" {
		return nil, domain.Businessf("order %d has no Clover order on record; it cannot be refunded here", order.ID())
	}

	items := make(map[int64]domain.LineItem, len(order.Items()))
	for _, item := range order.Items() {
		items[item.ID] = item
	}
	fees := make(map[int64]domain.FeeLine, len(order.Fees()))
	for _, fee := range order.Fees() {
		fees[fee.ID] = fee
	}

	payload := &clover.RefundPayload{
		CloverOrderUUID:    orderUUID,
		ShippingAsLineItem: metaIsYes(order, domain.MetaShippingAsLineItem),
		TaxIncluded:        metaIsYes(order, domain.MetaTaxIncluded),
		MergedQty:          metaIsYes(order, domain.MetaMergedQty),
		OrderID:            order.ID(),
		DBPrefix:           o.cfg.DBPrefix,
		Amount:             amountCents,
		Reason:             reason,
	}

	for _, line := range refund.Items {
		original, ok := items[line.OriginalID]
		if !ok {
			return nil, domain.Businessf("refunded item %d does not match any line on order %d", line.OriginalID, order.ID())
		}
		refundLine, err := buildRefundLine(line, original.Name, original.Quantity, original.Total, original.TotalTax)
		if err != nil {
			return nil, err
		}
		payload.LineItems = append(payload.LineItems, *refundLine)
	}

	for _, line := range refund.Fees {
		original, ok := fees[line.OriginalID]
		if !ok {
			return nil, domain.Businessf("refunded fee %d does not match any fee on order %d", line.OriginalID, order.ID())
		}
		refundLine, err := buildRefundLine(line, original.Name, original.Quantity, original.Total, original.TotalTax)
		if err != nil {
			return nil, err
		}
		payload.LineItems = append(payload.LineItems, *refundLine)
	}

	refundedShipping, err := money.ToCents(refund.ShippingTotal)
	if err != nil {
		return nil, domain.Businessf("invalid refunded shipping amount %q", refund.ShippingTotal)
	}
	if refundedShipping != 0 {
		if !payload.ShippingAsLineItem {
			return nil, domain.Businessf("shipping on order %d was not sent to Clover as a line item and cannot be refunded here", order.ID())
		}
		originalShipping := money.MustToCents(order.ShippingTotal())
		if -refundedShipping != originalShipping {
			return nil, domain.Businessf(
				"shipping must be refunded in full: refunded %s but the order's shipping is %s",
				money.FormatCents(-refundedShipping), money.FormatCents(originalShipping))
		}
		refundedShippingTax, err := money.ToCents(refund.ShippingTax)
		if err != nil {
			return nil, domain.Businessf("invalid refunded shipping tax %q", refund.ShippingTax)
		}
		originalShippingTax := money.MustToCents(order.ShippingTax())
		if -refundedShippingTax != originalShippingTax {
			return nil, domain.Businessf(
				"shipping tax must be refunded in full: refunded %s but the order's shipping tax is %s",
				money.FormatCents(-refundedShippingTax), money.FormatCents(originalShippingTax))
		}
		shippingName, _ := order.MetaGet(domain.MetaShippingLineItemName)
		if shippingName == "" {
			shippingName = "Shipping"
		}
		payload.ShippingItem = &clover.RefundShippingItem{
			RefundedShippingAmount: originalShipping + originalShippingTax,
			RefundedShippingName:   shippingName,
		}
	}

	return payload, nil
}

// buildRefundLine validates one refunded line against its original and
// produces the payload line. Refund deltas are negative in the store.
func buildRefundLine(line domain.RefundedLine, name string, origQty int, origTotal, origTax string) (*clover.RefundLineItem, error) {
	refundedTotal, err := money.ToCents(line.Total)
	if err != nil {
		return nil, domain.Businessf("invalid refunded total %q on %q", line.Total, name)
	}
	refundedTax, err := money.ToCents(line.TotalTax)
	if err != nil {
		return nil, domain.Businessf("invalid refunded tax %q on %q", line.TotalTax, name)
	}
	totalCents := money.MustToCents(origTotal)
	taxCents := money.MustToCents(origTax)

	if -line.Quantity != origQty {
		return nil, domain.Businessf(
			"%q must be refunded in full: refund quantity is %d but the order line has %d",
			name, -line.Quantity, origQty)
	}
	if -refundedTotal != totalCents {
		return nil, domain.Businessf(
			"%q must be refunded in full: refund total is %s but the order line total is %s",
			name, money.FormatCents(-refundedTotal), money.FormatCents(totalCents))
	}
	if -refundedTax != taxCents {
		return nil, domain.Businessf(
			"%q must be refunded in full: refund tax is %s but the order line tax is %s",
			name, money.FormatCents(-refundedTax), money.FormatCents(taxCents))
	}

	return &clover.RefundLineItem{
		RefundedQuantity:  line.Quantity,
		RefundedLineTotal: refundedTotal,
		RefundedTotalTax:  refundedTax,
		OrderRefundItemID: line.RefundItemID,
		RefundedItem: clover.RefundedItemInfo{
			LineItemID:      line.OriginalID,
			LineTotal:       totalCents,
			LineTotalTax:    taxCents,
			LineQuantity:    origQty,
			LineDescription: money.LineDescription(name, origQty),
		},
	}, nil
}

// RefundCharge refunds a single credit-card charge from the order's ledger,
// flips the ledger record and appends an audit note. Used by the admin
// per-charge refund action.
func (o *Orchestrator) RefundCharge(ctx context.Context, order domain.Order, chargeID string, amountCents int64) error {
	record, err := o.charges.Get(order, chargeID)
	if err != nil {
		return err
	}
	if record.Status == domain.ChargeStatusRefunded {
		return domain.Businessf("charge %s is already refunded", chargeID)
	}
	if amountCents != record.Amount {
		return domain.Businessf("charge %s must be refunded in full: requested %s but the charge is %s",
			chargeID, money.FormatCents(amountCents), money.FormatCents(record.Amount))
	}

	externalRef := fmt.Sprintf("wc_%d", order.ID())
	if len(externalRef) > 12 {
		externalRef = externalRef[:12]
	}

	result, err := o.api.RefundCharge(ctx, chargeID, clover.RefundReasonRequestedByCustomer, externalRef, amountCents)
	if err != nil {
		return fmt.Errorf("order %d charge %s: %w", order.ID(), chargeID, err)
	}
	if result.Object != "refund" || result.Status != clover.RefundStatusSucceeded {
		return domain.Businessf("the refund was not applied: the charge appears to be already refunded")
	}

	if err := o.charges.MarkRefunded(order, chargeID); err != nil {
		return err
	}

	note := fmt.Sprintf(`Charge <a href="%s" target="_blank">%s</a> refunded: %s %s, refund ID %s.`,
		clover.ChargeReceiptURL(chargeID, o.cfg.Production), chargeID,
		money.FormatCents(result.Amount), order.Currency(), result.ID)
	if err := order.AddNote(note); err != nil {
		o.logger.Warn("failed to record charge refund note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}

	o.publishRefund(ctx, order, result.ID, chargeID, result.Amount, clover.RefundReasonRequestedByCustomer)

	o.logger.Info("charge refunded",
		zap.Int64("orderId", order.ID()),
		zap.String("chargeId", chargeID),
		zap.String("refundId", result.ID))
	return nil
}

// RefundTender refunds a settled custom tender through the tender ledger and
// publishes the audit event. Used by the admin per-tender refund action.
func (o *Orchestrator) RefundTender(ctx context.Context, order domain.Order, tenderID string) (*clover.RefundResult, error) {
	result, err := o.tenders.Refund(ctx, order, tenderID)
	if err != nil {
		return nil, err
	}

	if o.publisher != nil {
		event := events.TenderRefundedEvent{
			BaseEvent: events.BaseEvent{
				EventID:       uuid.NewString(),
				EventType:     events.EventTenderRefunded,
				SchemaVersion: 1,
				OccurredAt:    time.Now().UTC(),
				CorrelationID: fmt.Sprintf("order-%d", order.ID()),
			},
			OrderID:  order.ID(),
			TenderID: tenderID,
			ChargeID: result.Charge,
			RefundID: result.ID,
			Amount:   result.Amount,
		}
		if err := messaging.PublishWithOrderID(ctx, o.publisher, o.cfg.EventTopic, order.ID(), event); err != nil {
			o.logger.Warn("failed to publish tender refund event",
				zap.Int64("orderId", order.ID()),
				zap.String("tenderId", tenderID),
				zap.Error(err))
		}
	}
	return result, nil
}

func (o *Orchestrator) publishRefund(ctx context.Context, order domain.Order, refundID, chargeID string, amount int64, reason string) {
	if o.publisher == nil {
		return
	}
	event := events.RefundSucceededEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventRefundSucceeded,
			SchemaVersion: 1,
			OccurredAt:    time.Now().UTC(),
			CorrelationID: fmt.Sprintf("order-%d", order.ID()),
		},
		OrderID:  order.ID(),
		RefundID: refundID,
		ChargeID: chargeID,
		Amount:   amount,
		Reason:   reason,
	}
	if err := messaging.PublishWithOrderID(ctx, o.publisher, o.cfg.EventTopic, order.ID(), event); err != nil {
		o.logger.Warn("failed to publish refund event",
			zap.Int64("orderId", order.ID()),
			zap.Error(err))
	}
}

func metaIsYes(order domain.Order, key string) bool {
	v, _ := order.MetaGet(key)
	return v == "yes"
}
