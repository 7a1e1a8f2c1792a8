// Package processor drives one checkout attempt through its states: bot
// checks, customer creation, order preparation, custom tender settlement,
// remaining-balance card charge, response classification and durable
// recording. States run sequentially with no backtracking; every remote
// failure is terminal for the attempt and the shopper resubmits, which is
// safe because the remote order id is cached and the ledgers are keyed by
// charge id.
package processor

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
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/tender"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/verify"
)

// FormInput is the raw checkout submission.
type FormInput struct {
	Token          string
	CardBrand      string
	CardLast4      string
	CardExpMonth   string
	CardExpYear    string
	TokenizedZip   string
	RecaptchaToken string
	// Honeypot is the hidden anti-bot field; any value means a bot filled
	// the form.
	Honeypot string
}

// Result values of a checkout attempt. A declined card still yields
// ResultSuccess with a redirect: the HTTP operation worked, the shopper is
// sent to see the failure rather than shown a generic error.
const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

// Outcome is what the checkout endpoint returns to the storefront.
type Outcome struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
}

// Config holds the processor toggles.
type Config struct {
	HoneypotEnabled        bool
	RecaptchaEnabled       bool
	RecaptchaThreshold     float64
	PostTokenizationChecks bool
	// Production selects the production receipt host for audit note links.
	Production bool
	// TaxIncluded and MergedQty describe how the storefront renders prices;
	// both are recorded on the order so refunds replay the same layout.
	TaxIncluded bool
	MergedQty   bool
	// ShippingLineItemName labels the shipping line when shipping is sent to
	// the processor as a regular line item.
	ShippingLineItemName string
	DBPrefix             string
	EventTopic           string
}

// Processor is the order payment state machine.
type Processor struct {
	api       clover.API
	tenders   *tender.Ledger
	charges   *charge.Ledger
	verifier  verify.Verifier
	publisher messaging.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a processor. verifier may be nil when recaptcha is disabled;
// publisher may be nil when the audit stream is not configured.
func New(api clover.API, tenders *tender.Ledger, charges *charge.Ledger, verifier verify.Verifier, publisher messaging.Publisher, cfg Config, logger *zap.Logger) *Processor {
	if cfg.ShippingLineItemName == "" {
		cfg.ShippingLineItemName = "Shipping"
	}
	return &Processor{
		api:       api,
		tenders:   tenders,
		charges:   charges,
		verifier:  verifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessOrderPayment runs one checkout attempt. A nil error with
// Result=fail means a policy rejection (honeypot, missing card details); a
// non-nil error means a remote or internal failure the handler collapses to
// a generic message.
func (p *Processor) ProcessOrderPayment(ctx context.Context, order domain.Order, input FormInput) (*Outcome, error) {
	totalCents, err := money.ToCents(order.Total())
	if err != nil {
		return nil, fmt.Errorf("order %d has an unparseable total %q: %w", order.ID(), order.Total(), err)
	}
	pendingTotal, err := p.tenders.PendingTotal(order, "")
	if err != nil {
		return nil, err
	}
	isZeroTotal := totalCents <= 0

	// The honeypot fires before everything else, free orders included.
	if p.cfg.HoneypotEnabled && input.Honeypot != "" {
		return p.rejectAsBot(ctx, order, fmt.Sprintf(
			"Order cancelled: hidden anti-bot field was filled in (value: %q).", input.Honeypot))
	}

	// Free order with nothing to settle: storefront hooks re-enter here for
	// zero-total orders, so finish without any remote call.
	if isZeroTotal && pendingTotal == 0 {
		if err := order.PaymentComplete(""); err != nil {
			return nil, fmt.Errorf("failed to complete zero-total order %d: %w", order.ID(), err)
		}
		return &Outcome{Result: ResultSuccess, Redirect: order.ReceivedURL()}, nil
	}

	if p.cfg.RecaptchaEnabled && !isZeroTotal {
		outcome, err := p.assessBotScore(ctx, order, input)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}

	if !isZeroTotal && input.Token == "" {
		p.logger.Warn("checkout submitted without a payment token", zap.Int64("orderId", order.ID()))
		return &Outcome{Result: ResultFail}, nil
	}

	customerID, err := p.api.CreateCustomer(ctx, p.buildCustomerProfile(order))
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", order.ID(), err)
	}

	orderUUID, err := p.prepareOrder(ctx, order, customerID)
	if err != nil {
		return nil, err
	}

	amountDue := totalCents
	tendersProcessed := false
	if pendingTotal > 0 {
		outcome, due, processed, err := p.settleTenders(ctx, order, orderUUID, totalCents)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
		tendersProcessed = processed
		if processed && due != nil {
			amountDue = *due
		}
	}

	if amountDue <= 0 {
		if err := order.PaymentComplete(""); err != nil {
			return nil, fmt.Errorf("failed to complete order %d: %w", order.ID(), err)
		}
		return &Outcome{Result: ResultSuccess, Redirect: order.ReceivedURL()}, nil
	}

	if input.Token == "" {
		p.logger.Warn("remaining balance requires card details but no token was submitted",
			zap.Int64("orderId", order.ID()),
			zap.Int64("amountDue", amountDue),
			zap.Bool("tendersProcessed", tendersProcessed))
		return &Outcome{Result: ResultFail}, nil
	}

	return p.chargeCard(ctx, order, orderUUID, input, amountDue)
}

// assessBotScore runs the human-likelihood check. It returns a non-nil
// outcome when the attempt must end here, nil to continue.
func (p *Processor) assessBotScore(ctx context.Context, order domain.Order, input FormInput) (*Outcome, error) {
	// The browser widget submits an error report in place of a token when
	// tokenization failed on the front end; record it and fail open rather
	// than blocking a real shopper over a widget problem.
	if msg := verify.TokenError(input.RecaptchaToken); msg != "" {
		if err := order.AddNote(fmt.Sprintf("reCAPTCHA could not run in the browser (%s); proceeding without a score.", msg)); err != nil {
			p.logger.Warn("failed to record recaptcha note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
		return nil, nil
	}

	assessment, err := p.verifier.Assess(ctx, input.RecaptchaToken, order.CustomerIP())
	if err != nil {
		return nil, fmt.Errorf("order %d: recaptcha verification failed: %w", order.ID(), err)
	}

	if !assessment.Success {
		note := fmt.Sprintf("reCAPTCHA rejected the token (%s).", strings.Join(assessment.ErrorCodes, ", "))
		if err := order.AddNote(note); err != nil {
			p.logger.Warn("failed to record recaptcha note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
		return nil, fmt.Errorf("order %d: recaptcha rejected the token: %s", order.ID(), strings.Join(assessment.ErrorCodes, ", "))
	}

	if assessment.Score == nil {
		if err := order.AddNote("reCAPTCHA verification succeeded but returned no score."); err != nil {
			p.logger.Warn("failed to record recaptcha note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
		return nil, nil
	}

	score := *assessment.Score
	if score < p.cfg.RecaptchaThreshold {
		outcome, err := p.rejectAsBot(ctx, order, fmt.Sprintf(
			"Order cancelled: reCAPTCHA score %.2f is below the threshold %.2f (likely a bot).",
			score, p.cfg.RecaptchaThreshold))
		if err != nil {
			return nil, err
		}
		// The storefront must not re-show the payment form for an order
		// cancelled as a bot, so this is a success with a redirect.
		outcome.Result = ResultSuccess
		outcome.Redirect = order.ViewURL()
		return outcome, nil
	}

	if err := order.AddNote(fmt.Sprintf("reCAPTCHA score %.2f: likely a human.", score)); err != nil {
		p.logger.Warn("failed to record recaptcha note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}
	return nil, nil
}

func (p *Processor) rejectAsBot(ctx context.Context, order domain.Order, note string) (*Outcome, error) {
	if err := order.AddNote(note); err != nil {
		p.logger.Warn("failed to record bot rejection note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}
	if err := order.UpdateStatus(domain.OrderStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel order %d: %w", order.ID(), err)
	}
	p.publish(ctx, order.ID(), events.OrderCancelledEvent{
		BaseEvent: p.baseEvent(events.EventOrderCancelled, order.ID()),
		OrderID:   order.ID(),
		Reason:    note,
	})
	return &Outcome{Result: ResultFail}, nil
}

func (p *Processor) buildCustomerProfile(order domain.Order) clover.CustomerProfile {
	billing := order.Billing()
	profile := clover.CustomerProfile{
		FirstName:        billing.FirstName,
		LastName:         billing.LastName,
		MarketingAllowed: false,
		EmailAddresses: []clover.CustomerEmail{
			{EmailAddress: billing.Email, PrimaryEmail: true},
		},
		Metadata: clover.CustomerMetadata{
			Note:         fmt.Sprintf("Created by WeeConnectPay for order %d", order.ID()),
			BusinessName: billing.Company,
		},
	}
	if billing.Phone != "" {
		profile.PhoneNumbers = []clover.CustomerPhone{{PhoneNumber: billing.Phone}}
	}
	// Address block only when complete: the processor rejects customers with
	// partially filled addresses.
	if billing.Address1 != "" && billing.City != "" && billing.State != "" &&
		billing.Country != "" && billing.PostalCode != "" {
		profile.Addresses = []clover.CustomerAddress{{
			Address1:    billing.Address1,
			Address2:    billing.Address2,
			City:        billing.City,
			Country:     billing.Country,
			PhoneNumber: billing.Phone,
			State:       billing.State,
			Zip:         billing.PostalCode,
		}}
	}
	return profile
}

// prepareOrder returns the remote order uuid, reusing the cached one when
// the shopper resubmits after a failed attempt.
func (p *Processor) prepareOrder(ctx context.Context, order domain.Order, customerID string) (string, error) {
	if cached, ok := order.MetaGet(domain.MetaCloverOrderUUID); ok && cached != "" {
		return cached, nil
	}

	draft := clover.OrderDraft{
		OrderID:     order.ID(),
		CustomerID:  customerID,
		Currency:    strings.ToLower(order.Currency()),
		TaxIncluded: p.cfg.TaxIncluded,
		DBPrefix:    p.cfg.DBPrefix,
	}
	for _, item := range order.Items() {
		total, err := money.ToCents(item.Total)
		if err != nil {
			return "", fmt.Errorf("order %d item %d has an unparseable total: %w", order.ID(), item.ID, err)
		}
		tax, err := money.ToCents(item.TotalTax)
		if err != nil {
			return "", fmt.Errorf("order %d item %d has an unparseable tax: %w", order.ID(), item.ID, err)
		}
		draft.Items = append(draft.Items, clover.DraftItem{
			Description: money.LineDescription(item.Name, item.Quantity),
			Quantity:    item.Quantity,
			Total:       total,
			TotalTax:    tax,
		})
	}
	for _, fee := range order.Fees() {
		total, err := money.ToCents(fee.Total)
		if err != nil {
			return "", fmt.Errorf("order %d fee %d has an unparseable total: %w", order.ID(), fee.ID, err)
		}
		tax, err := money.ToCents(fee.TotalTax)
		if err != nil {
			return "", fmt.Errorf("order %d fee %d has an unparseable tax: %w", order.ID(), fee.ID, err)
		}
		draft.Items = append(draft.Items, clover.DraftItem{
			Description: money.LineDescription(fee.Name, fee.Quantity),
			Quantity:    fee.Quantity,
			Total:       total,
			TotalTax:    tax,
		})
	}

	shippingCents, err := money.ToCents(order.ShippingTotal())
	if err != nil {
		return "", fmt.Errorf("order %d has an unparseable shipping total: %w", order.ID(), err)
	}
	shippingTax, err := money.ToCents(order.ShippingTax())
	if err != nil {
		return "", fmt.Errorf("order %d has an unparseable shipping tax: %w", order.ID(), err)
	}
	shippingAsLineItem := shippingCents > 0
	if shippingAsLineItem {
		draft.ShippingName = p.cfg.ShippingLineItemName
		draft.ShippingAmount = shippingCents + shippingTax
	}

	orderUUID, err := p.api.PrepareOrder(ctx, draft)
	if err != nil {
		return "", fmt.Errorf("order %d: %w", order.ID(), err)
	}

	// Cache the uuid and the layout flags the refund path needs to replay
	// this order's structure later.
	if err := order.MetaSet(domain.MetaCloverOrderUUID, orderUUID); err != nil {
		return "", fmt.Errorf("failed to cache remote order uuid on order %d: %w", order.ID(), err)
	}
	metaFlags := map[string]bool{
		domain.MetaTaxIncluded:        p.cfg.TaxIncluded,
		domain.MetaMergedQty:          p.cfg.MergedQty,
		domain.MetaShippingAsLineItem: shippingAsLineItem,
	}
	for key, value := range metaFlags {
		if err := order.MetaSet(key, boolMeta(value)); err != nil {
			return "", fmt.Errorf("failed to record order layout meta %s on order %d: %w", key, order.ID(), err)
		}
	}
	if shippingAsLineItem {
		if err := order.MetaSet(domain.MetaShippingLineItemName, p.cfg.ShippingLineItemName); err != nil {
			return "", fmt.Errorf("failed to record shipping line name on order %d: %w", order.ID(), err)
		}
	}

	note := fmt.Sprintf(`Clover order created: <a href="%s" target="_blank">%s</a>`,
		clover.OrderReceiptURL(orderUUID, p.cfg.Production), orderUUID)
	if err := order.AddNote(note); err != nil {
		p.logger.Warn("failed to record order creation note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}

	p.logger.Info("remote order prepared",
		zap.Int64("orderId", order.ID()),
		zap.String("cloverOrderUuid", orderUUID))
	return orderUUID, nil
}

// settleTenders charges every pending tender in list order. It returns a
// non-nil outcome when the whole attempt ends inside the loop, otherwise the
// remote-reported amount due after the last tender charge.
func (p *Processor) settleTenders(ctx context.Context, order domain.Order, orderUUID string, totalCents int64) (*Outcome, *int64, bool, error) {
	all, err := p.tenders.List(order)
	if err != nil {
		return nil, nil, false, err
	}

	var lastAmountDue *int64
	anySucceeded := false
	processed := false

	for _, t := range all {
		if t.Status != domain.TenderStatusPending {
			continue
		}
		processed = true

		result, err := p.api.ChargeCustomTender(ctx, orderUUID, t.Provider, t.Amount, order.CustomerIP())
		if err != nil {
			return nil, nil, false, fmt.Errorf("order %d tender %s: %w", order.ID(), t.ID, err)
		}
		if result.AmountDue != nil {
			lastAmountDue = result.AmountDue
		}

		switch result.Status {
		case clover.ChargeStatusPaid, clover.ChargeStatusCreated:
			if err := p.tenders.MarkPaid(order, t.ID, result.PaymentID); err != nil {
				return nil, nil, false, err
			}
			anySucceeded = true
			note := fmt.Sprintf("Custom tender %s (%s) charged %s %s.",
				t.ID, t.Provider, money.FormatCents(t.Amount), order.Currency())
			if err := order.AddNote(note); err != nil {
				p.logger.Warn("failed to record tender note", zap.Int64("orderId", order.ID()), zap.Error(err))
			}
			p.tenders.ExecuteChargeCreation(ctx, order, t, true)
			p.publish(ctx, order.ID(), events.TenderChargedEvent{
				BaseEvent: p.baseEvent(events.EventTenderCharged, order.ID()),
				OrderID:   order.ID(),
				TenderID:  t.ID,
				Provider:  t.Provider,
				ChargeID:  result.PaymentID,
				Amount:    t.Amount,
			})

		case clover.ChargeStatusFailed:
			if err := p.tenders.MarkFailed(order, t.ID); err != nil {
				return nil, nil, false, err
			}
			// The remote order can already be fully paid when the shopper
			// resubmitted after a timeout: treat it as paid here and let the
			// merchant reconcile on the dashboard.
			if result.Err != nil && result.Err.Code == clover.ErrorCodeOrderAlreadyPaid {
				note := fmt.Sprintf("Custom tender %s (%s) was not charged: the Clover order is already fully paid. "+
					"Marking the order as paid; please verify the payment on the Clover dashboard.", t.ID, t.Provider)
				if err := order.AddNote(note); err != nil {
					p.logger.Warn("failed to record tender note", zap.Int64("orderId", order.ID()), zap.Error(err))
				}
				if err := order.PaymentComplete(""); err != nil {
					return nil, nil, false, fmt.Errorf("failed to complete order %d: %w", order.ID(), err)
				}
				return &Outcome{Result: ResultSuccess, Redirect: order.ReceivedURL()}, nil, false, nil
			}

			reason := "unknown"
			if result.Err != nil && result.Err.Message != "" {
				reason = result.Err.Message
			}
			note := fmt.Sprintf("Custom tender %s (%s) charge of %s %s failed: %s.",
				t.ID, t.Provider, money.FormatCents(t.Amount), order.Currency(), reason)
			if err := order.AddNote(note); err != nil {
				p.logger.Warn("failed to record tender note", zap.Int64("orderId", order.ID()), zap.Error(err))
			}
			p.tenders.ExecuteChargeCreation(ctx, order, t, false)
			p.publish(ctx, order.ID(), events.TenderChargeFailedEvent{
				BaseEvent: p.baseEvent(events.EventTenderChargeFailed, order.ID()),
				OrderID:   order.ID(),
				TenderID:  t.ID,
				Provider:  t.Provider,
				Amount:    t.Amount,
				Reason:    reason,
			})
			// One tender failing does not abort the others.

		default:
			if err := p.tenders.MarkFailed(order, t.ID); err != nil {
				return nil, nil, false, err
			}
			return nil, nil, false, fmt.Errorf("order %d tender %s: unrecognized charge status %q",
				order.ID(), t.ID, result.Status)
		}
	}

	if anySucceeded {
		covered, err := p.tendersCoverOrder(order, totalCents)
		if err != nil {
			return nil, nil, false, err
		}
		if covered || totalCents <= 0 {
			if err := order.PaymentComplete(""); err != nil {
				return nil, nil, false, fmt.Errorf("failed to complete order %d: %w", order.ID(), err)
			}
			return &Outcome{Result: ResultSuccess, Redirect: order.ReceivedURL()}, nil, false, nil
		}
	}

	return nil, lastAmountDue, processed, nil
}

// tendersCoverOrder checks whether the settled tenders cover the order's
// reconstructed original total. The store deducts applied tenders from the
// order total at checkout, so the original total is the current total plus
// every tender amount on record.
func (p *Processor) tendersCoverOrder(order domain.Order, totalCents int64) (bool, error) {
	all, err := p.tenders.List(order)
	if err != nil {
		return false, err
	}
	var allTenders int64
	for _, t := range all {
		allTenders += t.Amount
	}
	successful, err := p.tenders.SuccessfulTotal(order)
	if err != nil {
		return false, err
	}
	reconstructed := totalCents + allTenders
	return successful >= reconstructed, nil
}

func (p *Processor) chargeCard(ctx context.Context, order domain.Order, orderUUID string, input FormInput, amountDue int64) (*Outcome, error) {
	result, err := p.api.ChargeCard(ctx, orderUUID, input.Token, order.CustomerIP(), amountDue)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", order.ID(), err)
	}

	switch result.Status {
	case clover.ChargeStatusPaid:
		return p.recordPaidCharge(ctx, order, input, result, amountDue)

	case clover.ChargeStatusFailed:
		return p.recordFailedCharge(ctx, order, result, input, amountDue)

	default:
		return nil, fmt.Errorf("order %d: unrecognized card charge status %q", order.ID(), result.Status)
	}
}

func (p *Processor) recordPaidCharge(ctx context.Context, order domain.Order, input FormInput, result *clover.ChargeResult, amountDue int64) (*Outcome, error) {
	if err := order.MetaSet(domain.MetaCardBrand, input.CardBrand); err != nil {
		return nil, fmt.Errorf("failed to record card brand on order %d: %w", order.ID(), err)
	}
	if err := order.MetaSet(domain.MetaCloverPaymentUUID, result.PaymentID); err != nil {
		return nil, fmt.Errorf("failed to record payment uuid on order %d: %w", order.ID(), err)
	}

	currency := result.Currency
	if currency == "" {
		currency = strings.ToLower(order.Currency())
	}
	record := domain.CardCharge{
		ChargeID:   result.PaymentID,
		Amount:     amountDue,
		Currency:   currency,
		CardType:   input.CardBrand,
		Last4:      input.CardLast4,
		ExpMonth:   input.CardExpMonth,
		ExpYear:    input.CardExpYear,
		PostalCode: input.TokenizedZip,
		Status:     domain.ChargeStatusSuccess,
	}
	if err := p.charges.Save(order, record); err != nil {
		// A resubmission can race the first attempt's durable write; the
		// charge is already on record, so keep going.
		if err == domain.ErrDuplicateCharge {
			p.logger.Warn("charge already recorded",
				zap.Int64("orderId", order.ID()),
				zap.String("chargeId", result.PaymentID))
		} else {
			return nil, err
		}
	}

	note := fmt.Sprintf(`Card charge of %s %s succeeded: <a href="%s" target="_blank">%s</a>`,
		money.FormatCents(amountDue), strings.ToUpper(currency),
		clover.ChargeReceiptURL(result.PaymentID, p.cfg.Production), result.PaymentID)
	if err := order.AddNote(note); err != nil {
		p.logger.Warn("failed to record charge note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}

	if err := order.PaymentComplete(result.PaymentID); err != nil {
		return nil, fmt.Errorf("failed to complete order %d: %w", order.ID(), err)
	}

	if p.cfg.PostTokenizationChecks {
		p.postTokenizationNotes(order, input)
	}

	p.publish(ctx, order.ID(), events.ChargeSucceededEvent{
		BaseEvent: p.baseEvent(events.EventChargeSucceeded, order.ID()),
		OrderID:   order.ID(),
		ChargeID:  result.PaymentID,
		Amount:    amountDue,
		Currency:  currency,
		CardType:  input.CardBrand,
	})

	p.logger.Info("card charge succeeded",
		zap.Int64("orderId", order.ID()),
		zap.String("paymentId", result.PaymentID),
		zap.Int64("amount", amountDue))

	return &Outcome{Result: ResultSuccess, Redirect: order.ReceivedURL()}, nil
}

func (p *Processor) recordFailedCharge(ctx context.Context, order domain.Order, result *clover.ChargeResult, input FormInput, amountDue int64) (*Outcome, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Card charge of %s %s failed.", money.FormatCents(amountDue), order.Currency())
	errorCode, declineCode, message := "", "", ""
	if result.Err != nil {
		errorCode = result.Err.Code
		declineCode = result.Err.DeclineCode
		message = result.Err.Message
		if result.Err.Code != "" {
			fmt.Fprintf(&sb, " Error code: %s.", result.Err.Code)
		}
		if result.Err.DeclineCode != "" {
			fmt.Fprintf(&sb, " Decline code: %s.", result.Err.DeclineCode)
		}
		if result.Err.Message != "" {
			fmt.Fprintf(&sb, " %s", result.Err.Message)
		}
		if result.Err.Charge != "" {
			fmt.Fprintf(&sb, ` Charge: <a href="%s" target="_blank">%s</a>.`,
				clover.ChargeReceiptURL(result.Err.Charge, p.cfg.Production), result.Err.Charge)
		}
	}
	if result.PaymentID != "" {
		fmt.Fprintf(&sb, " Payment ID: %s.", result.PaymentID)
	}
	if input.CardBrand != "" || input.CardLast4 != "" {
		fmt.Fprintf(&sb, " Card: %s ending in %s.", input.CardBrand, input.CardLast4)
	}

	if err := order.AddNote(sb.String()); err != nil {
		p.logger.Warn("failed to record charge failure note", zap.Int64("orderId", order.ID()), zap.Error(err))
	}
	if err := order.UpdateStatus(domain.OrderStatusFailed); err != nil {
		return nil, fmt.Errorf("failed to mark order %d failed: %w", order.ID(), err)
	}

	p.publish(ctx, order.ID(), events.ChargeFailedEvent{
		BaseEvent:   p.baseEvent(events.EventChargeFailed, order.ID()),
		OrderID:     order.ID(),
		Amount:      amountDue,
		ErrorCode:   errorCode,
		DeclineCode: declineCode,
		Reason:      message,
	})

	p.logger.Info("card charge declined",
		zap.Int64("orderId", order.ID()),
		zap.String("errorCode", errorCode),
		zap.String("declineCode", declineCode))

	// The payment failed but the HTTP operation did not: redirect the
	// shopper to the order page to see the decline.
	return &Outcome{Result: ResultSuccess, Redirect: order.ViewURL()}, nil
}

// postTokenizationNotes cross-checks the postal codes involved in the charge
// and leaves audit notes for the merchant. Informational only.
func (p *Processor) postTokenizationNotes(order domain.Order, input FormInput) {
	billingZip := normalizeZip(order.Billing().PostalCode)
	shippingZip := normalizeZip(order.ShippingAddress().PostalCode)
	tokenizedZip := normalizeZip(input.TokenizedZip)

	note := func(text string) {
		if err := order.AddNote(text); err != nil {
			p.logger.Warn("failed to record postal check note", zap.Int64("orderId", order.ID()), zap.Error(err))
		}
	}

	if shippingZip != "" && billingZip != "" && shippingZip != billingZip {
		note(fmt.Sprintf("Info: the shipping postal code (%s) differs from the billing postal code (%s).",
			order.ShippingAddress().PostalCode, order.Billing().PostalCode))
	}
	if tokenizedZip == "" {
		note("Warning: the card was tokenized without a postal code; address verification did not run.")
		return
	}
	if billingZip != "" && tokenizedZip != billingZip {
		note(fmt.Sprintf("Warning: the postal code used to tokenize the card (%s) differs from the billing postal code (%s).",
			input.TokenizedZip, order.Billing().PostalCode))
	}
}

func normalizeZip(zip string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(zip), " ", ""))
}

func boolMeta(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (p *Processor) baseEvent(eventType events.EventType, orderID int64) events.BaseEvent {
	return events.BaseEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: fmt.Sprintf("order-%d", orderID),
	}
}

// publish sends an audit event. Best effort: failures are logged and never
// change the checkout outcome.
func (p *Processor) publish(ctx context.Context, orderID int64, event interface{}) {
	if p.publisher == nil {
		return
	}
	if err := messaging.PublishWithOrderID(ctx, p.publisher, p.cfg.EventTopic, orderID, event); err != nil {
		p.logger.Warn("failed to publish audit event",
			zap.Int64("orderId", orderID),
			zap.Error(err))
	}
}
