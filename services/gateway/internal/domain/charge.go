package domain

// ChargeStatus is the lifecycle state of a credit-card charge record.
type ChargeStatus string

const (
	ChargeStatusSuccess  ChargeStatus = "success"
	ChargeStatusRefunded ChargeStatus = "refunded"
)

// CardCharge is one successful credit-card charge recorded against an
// order, keyed by the remote charge id. Records are created only for
// successful charges and are never deleted; a refund flips the status.
type CardCharge struct {
	ChargeID string `json:"charge_id"`
	// Amount in minor units, always positive.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	CardType string `json:"card_type"`
	Last4    string `json:"card_last4"`
	// Expiry is absent for wallet tokenizations (Google Pay does not
	// report it).
	ExpMonth   string       `json:"card_exp_month,omitempty"`
	ExpYear    string       `json:"card_exp_year,omitempty"`
	PostalCode string       `json:"card_postal_code"`
	Status     ChargeStatus `json:"status"`
}

// ChargeProjection is the admin-facing view of a charge record.
type ChargeProjection struct {
	ChargeID   string       `json:"charge_id"`
	Amount     int64        `json:"amount"`
	Currency   string       `json:"currency"`
	CardType   string       `json:"card_type"`
	PostalCode string       `json:"card_postal_code"`
	Status     ChargeStatus `json:"status"`
}
