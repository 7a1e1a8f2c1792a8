package clover

import "fmt"

// Receipt URL hosts.
const (
	receiptHostSandbox    = "https://checkout.sandbox.dev.clover.com"
	receiptHostProduction = "https://checkout.clover.com"
)

// OrderReceiptURL returns the shopper-facing Clover receipt page for an
// order.
func OrderReceiptURL(orderUUID string, production bool) string {
	host := receiptHostSandbox
	if production {
		host = receiptHostProduction
	}
	return fmt.Sprintf("%s/receipt/ORDER/%s", host, orderUUID)
}

// ChargeReceiptURL returns the shopper-facing Clover receipt page for a
// single charge.
func ChargeReceiptURL(chargeUUID string, production bool) string {
	host := receiptHostSandbox
	if production {
		host = receiptHostProduction
	}
	return fmt.Sprintf("%s/receipt/CHARGE/%s", host, chargeUUID)
}
