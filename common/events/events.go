package events

import "time"

// EventType identifies an audit event on the payment stream.
type EventType string

const (
	// Charge events
	EventChargeSucceeded EventType = "payment.charge.succeeded.v1"
	EventChargeFailed    EventType = "payment.charge.failed.v1"

	// Custom tender events
	EventTenderCharged      EventType = "payment.tender.charged.v1"
	EventTenderChargeFailed EventType = "payment.tender.charge_failed.v1"
	EventTenderRefunded     EventType = "payment.tender.refunded.v1"

	// Refund events
	EventRefundSucceeded EventType = "payment.refund.succeeded.v1"

	// Order events
	EventOrderCancelled EventType = "payment.order.cancelled.v1"
)

// BaseEvent carries the fields common to every event.
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"`
}

// ChargeSucceededEvent records a successful card charge against an order.
type ChargeSucceededEvent struct {
	BaseEvent
	OrderID  int64  `json:"orderId"`
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	CardType string `json:"cardType"`
}

// ChargeFailedEvent records a declined or errored card charge.
type ChargeFailedEvent struct {
	BaseEvent
	OrderID     int64  `json:"orderId"`
	Amount      int64  `json:"amount"`
	ErrorCode   string `json:"errorCode"`
	DeclineCode string `json:"declineCode"`
	Reason      string `json:"reason"`
}

// TenderChargedEvent records a settled custom tender (gift card, loyalty card).
type TenderChargedEvent struct {
	BaseEvent
	OrderID  int64  `json:"orderId"`
	TenderID string `json:"tenderId"`
	Provider string `json:"provider"`
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
}

// TenderChargeFailedEvent records a custom tender charge that did not settle.
type TenderChargeFailedEvent struct {
	BaseEvent
	OrderID  int64  `json:"orderId"`
	TenderID string `json:"tenderId"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

// TenderRefundedEvent records a refunded custom tender charge.
type TenderRefundedEvent struct {
	BaseEvent
	OrderID  int64  `json:"orderId"`
	TenderID string `json:"tenderId"`
	ChargeID string `json:"chargeId"`
	RefundID string `json:"refundId"`
	Amount   int64  `json:"amount"`
}

// RefundSucceededEvent records a completed order or charge refund.
type RefundSucceededEvent struct {
	BaseEvent
	OrderID  int64  `json:"orderId"`
	RefundID string `json:"refundId"`
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

// OrderCancelledEvent records an order cancelled before payment, e.g. when
// bot checks fired.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason"`
}
