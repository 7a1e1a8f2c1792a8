package domain

// TenderStatus is the lifecycle state of a custom tender.
type TenderStatus string

const (
	TenderStatusPending  TenderStatus = "pending"
	TenderStatusSuccess  TenderStatus = "success"
	TenderStatusFailed   TenderStatus = "failed"
	TenderStatusRefunded TenderStatus = "refunded"
)

// Tender is one partial-payment instrument (gift card, loyalty card)
// applied to an order. The collection is stored as an ordered JSON list
// under MetaCustomTenders; settlement runs in list order.
type Tender struct {
	ID string `json:"id"`
	// Amount in minor units, always positive.
	Amount int64 `json:"amount"`
	// Provider is the tender label configured in the Clover merchant
	// account, e.g. "gift-card".
	Provider string       `json:"provider"`
	Status   TenderStatus `json:"status"`
	// ChargeID is the remote charge id, empty until the tender settles.
	ChargeID string `json:"charge_id"`
	// Callback is the registry key of the capability to invoke after a
	// charge or refund attempt.
	Callback string `json:"callback"`
}

// CanTransition reports whether a tender status change is allowed.
// Permitted transitions: pending -> success, pending -> failed,
// success -> refunded.
func (s TenderStatus) CanTransition(to TenderStatus) bool {
	switch s {
	case TenderStatusPending:
		return to == TenderStatusSuccess || to == TenderStatusFailed
	case TenderStatusSuccess:
		return to == TenderStatusRefunded
	default:
		return false
	}
}
