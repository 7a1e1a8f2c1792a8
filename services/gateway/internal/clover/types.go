package clover

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire format of every payment API response:
// {"result": "success", "data": {...}} or {"result": ..., "error": {...}}.
type Envelope struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
	Error  *APIError       `json:"error"`
}

// APIError is the error object the payment API attaches to failed
// operations and declined charges.
type APIError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Charge      string `json:"charge"`
	DeclineCode string `json:"declineCode"`
}

// Charge outcome statuses reported by the processor.
const (
	ChargeStatusPaid    = "paid"
	ChargeStatusCreated = "created"
	ChargeStatusFailed  = "failed"
)

// ErrorCodeOrderAlreadyPaid is reported when a charge is attempted against
// a remote order that has already been fully paid.
const ErrorCodeOrderAlreadyPaid = "order_already_paid"

// ChargeResult is the decoded outcome of a card or custom tender charge.
type ChargeResult struct {
	// Status is one of paid, created or failed. Anything else means the
	// response was malformed and the operation must abort.
	Status    string
	PaymentID string
	Currency  string
	OrderUUID string
	// AmountDue is the remote order's remaining balance after this charge,
	// reported only by custom tender charges. Nil when absent.
	AmountDue *int64
	Err       *APIError
}

// RefundResult is the decoded outcome of a refund. A charge refund reports
// status "succeeded" with Amount/Charge set; an itemized return reports
// status "returned" with AmountReturned/Items set.
type RefundResult struct {
	ID             string         `json:"id"`
	Object         string         `json:"object"`
	Amount         int64          `json:"amount"`
	Charge         string         `json:"charge"`
	Status         string         `json:"status"`
	AmountReturned int64          `json:"amount_returned"`
	Items          []ReturnedItem `json:"items"`
}

// Refund statuses.
const (
	RefundStatusSucceeded = "succeeded"
	RefundStatusReturned  = "returned"
)

// ReturnedItem is one line of an itemized return.
type ReturnedItem struct {
	Parent      string `json:"parent"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// Refund reasons accepted by the processor.
const (
	RefundReasonRequestedByCustomer = "requested_by_customer"
	RefundReasonDuplicate           = "duplicate"
	RefundReasonFraudulent          = "fraudulent"
)

// CustomerProfile is the customer-creation payload built from the order's
// billing details.
type CustomerProfile struct {
	FirstName        string            `json:"firstName,omitempty"`
	LastName         string            `json:"lastName,omitempty"`
	MarketingAllowed bool              `json:"marketingAllowed"`
	Addresses        []CustomerAddress `json:"addresses,omitempty"`
	EmailAddresses   []CustomerEmail   `json:"emailAddresses"`
	PhoneNumbers     []CustomerPhone   `json:"phoneNumbers,omitempty"`
	Metadata         CustomerMetadata  `json:"metadata"`
}

// CustomerAddress mirrors the processor's customer address object.
type CustomerAddress struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	Country     string `json:"country"`
	PhoneNumber string `json:"phoneNumber"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
}

// CustomerEmail mirrors the processor's email object.
type CustomerEmail struct {
	EmailAddress string `json:"emailAddress"`
	PrimaryEmail bool   `json:"primaryEmail"`
}

// CustomerPhone mirrors the processor's phone object.
type CustomerPhone struct {
	PhoneNumber string `json:"phoneNumber"`
}

// CustomerMetadata carries the free-form note attached to created customers.
type CustomerMetadata struct {
	Note         string `json:"note"`
	BusinessName string `json:"businessName,omitempty"`
}

// OrderDraft is the order-preparation payload.
type OrderDraft struct {
	OrderID      int64       `json:"order_id"`
	CustomerID   string      `json:"customer_id"`
	Currency     string      `json:"currency"`
	Items        []DraftItem `json:"items"`
	ShippingName string      `json:"shipping_name,omitempty"`
	// ShippingAmount in minor units, tax included when the shipping line is
	// sent as a regular line item.
	ShippingAmount int64  `json:"shipping_amount,omitempty"`
	TaxIncluded    bool   `json:"tax_included"`
	DBPrefix       string `json:"db_prefix"`
}

// DraftItem is one line of an order draft. Amounts are minor units.
type DraftItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Total       int64  `json:"total"`
	TotalTax    int64  `json:"total_tax"`
}

// RefundPayload is the orchestrated order-refund request.
type RefundPayload struct {
	CloverOrderUUID    string              `json:"clover_order_uuid"`
	ShippingAsLineItem bool                `json:"shipping_as_line_item"`
	TaxIncluded        bool                `json:"tax_included"`
	MergedQty          bool                `json:"merged_qty"`
	OrderID            int64               `json:"order_id"`
	DBPrefix           string              `json:"db_prefix"`
	Amount             int64               `json:"amount"`
	Reason             string              `json:"reason"`
	LineItems          []RefundLineItem    `json:"line_items"`
	ShippingItem       *RefundShippingItem `json:"shipping_item,omitempty"`
}

// RefundLineItem is one refunded line (product or fee) of a refund payload.
// Refunded quantities and amounts are negative deltas; the nested item holds
// the original line's values.
type RefundLineItem struct {
	RefundedQuantity  int              `json:"refunded_quantity"`
	RefundedLineTotal int64            `json:"refunded_line_total"`
	RefundedTotalTax  int64            `json:"refunded_total_tax"`
	OrderRefundItemID int64            `json:"order_refund_item_id"`
	RefundedItem      RefundedItemInfo `json:"refunded_item"`
}

// RefundedItemInfo describes the original order line a refund line points at.
type RefundedItemInfo struct {
	LineItemID      int64  `json:"line_item_id"`
	LineTotal       int64  `json:"line_total"`
	LineTotalTax    int64  `json:"line_total_tax"`
	LineQuantity    int    `json:"line_quantity"`
	LineDescription string `json:"line_description"`
}

// RefundShippingItem is the shipping line of a refund payload, present only
// when shipping was refunded and was sent to the processor as a line item.
type RefundShippingItem struct {
	RefundedShippingAmount int64  `json:"refunded_shipping_amount"`
	RefundedShippingName   string `json:"refunded_shipping_name"`
}

// InvalidResponseError indicates the payment API returned a body that is not
// valid JSON. This is fatal for the current operation.
type InvalidResponseError struct {
	Body string
	Err  error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid payment API response: %v", e.Err)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// RequestError indicates the payment API answered with a non-success
// envelope. The caller decides whether the operation can be resubmitted;
// nothing in the gateway retries automatically.
type RequestError struct {
	Op       string
	Result   string
	APIError *APIError
}

func (e *RequestError) Error() string {
	if e.APIError != nil && e.APIError.Message != "" {
		return fmt.Sprintf("%s: request failed (result=%q): %s", e.Op, e.Result, e.APIError.Message)
	}
	return fmt.Sprintf("%s: request failed (result=%q)", e.Op, e.Result)
}
