// Package domain holds the order contract and the payment records the
// gateway attaches to an order. The gateway never owns an order: it reads
// totals and addresses, reads and writes named metadata, appends notes and
// drives status transitions through the narrow Order interface.
package domain

// Order status values understood by the gateway.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusFailed     = "failed"
)

// Metadata keys owned by the gateway.
const (
	MetaCustomTenders        = "weeconnectpay_custom_tenders"
	MetaCharges              = "weeconnectpay_charges"
	MetaCloverOrderUUID      = "weeconnectpay_clover_order_uuid"
	MetaCloverPaymentUUID    = "weeconnectpay_clover_payment_uuid"
	MetaCardBrand            = "weeconnectpay_card_brand"
	MetaTaxIncluded          = "weeconnectpay_tax_included"
	MetaMergedQty            = "weeconnectpay_merged_qty"
	MetaShippingAsLineItem   = "weeconnectpay_shipping_as_clover_line_item"
	MetaShippingLineItemName = "weeconnectpay_shipping_line_item_name"
)

// Address is a billing or shipping address as provided by the store.
type Address struct {
	FirstName  string
	LastName   string
	Company    string
	Address1   string
	Address2   string
	City       string
	State      string
	Country    string
	PostalCode string
	Phone      string
	Email      string
}

// LineItem is one product line of an order. Amounts are decimal strings in
// the order currency, pre-tax, exactly as the store renders them.
type LineItem struct {
	ID       int64
	Name     string
	Quantity int
	Total    string
	TotalTax string
}

// FeeLine is one fee line of an order.
type FeeLine struct {
	ID       int64
	Name     string
	Quantity int
	Total    string
	TotalTax string
}

// RefundedLine is one line of a refund request. Quantities and amounts are
// negative, mirroring how the store records refund deltas.
type RefundedLine struct {
	RefundItemID int64
	// OriginalID references the order line (or fee) being refunded.
	OriginalID int64
	Quantity   int
	Total      string
	TotalTax   string
}

// Refund is one refund request recorded against an order.
type Refund struct {
	ID            int64
	Status        string
	Items         []RefundedLine
	Fees          []RefundedLine
	ShippingTotal string
	ShippingTax   string
}

// RefundStatusRefunded marks a refund request that has already been applied
// remotely; applying it again is an error.
const RefundStatusRefunded = "refunded"

// Order is the narrow contract the gateway holds over a store order.
//
// MetaSet persists immediately: the tender and charge collections are stored
// as whole JSON documents under a single key each, so every mutation is a
// read-modify-write of the full collection. The store serializes writers per
// order; the gateway adds no locking of its own.
type Order interface {
	ID() int64
	Currency() string
	// Total is the order's current total as a decimal string. When custom
	// tenders were applied at checkout the store has already deducted them,
	// so this can be zero for an order that still needs tender settlement.
	Total() string
	CustomerIP() string
	Billing() Address
	ShippingAddress() Address
	Status() string

	MetaGet(key string) (string, bool)
	MetaSet(key, value string) error
	AddNote(note string) error
	UpdateStatus(status string) error
	// PaymentComplete marks the order paid, recording the processor payment
	// id when one exists.
	PaymentComplete(paymentID string) error

	Items() []LineItem
	Fees() []FeeLine
	ShippingTotal() string
	ShippingTax() string
	// Refunds returns the order's refund requests, most recent first.
	Refunds() []Refund

	// ReceivedURL is the shopper-facing order received page.
	ReceivedURL() string
	// ViewURL is the shopper-facing order detail page.
	ViewURL() string
}
