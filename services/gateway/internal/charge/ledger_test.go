package charge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/store"
)

func visaCharge(id string, amount int64) domain.CardCharge {
	return domain.CardCharge{
		ChargeID:   id,
		Amount:     amount,
		Currency:   "cad",
		CardType:   "VISA",
		Last4:      "4242",
		ExpMonth:   "12",
		ExpYear:    "2028",
		PostalCode: "H2X 1Y4",
		Status:     domain.ChargeStatusSuccess,
	}
}

func TestSaveAndList(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")

	require.NoError(t, ledger.Save(order, visaCharge("CHG1", 2000)))
	require.NoError(t, ledger.Save(order, visaCharge("CHG2", 3000)))

	charges, err := ledger.List(order)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, "CHG1", charges[0].ChargeID)
	assert.Equal(t, domain.ChargeStatusSuccess, charges[0].Status)
}

func TestSaveValidation(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")

	c := visaCharge("", 2000)
	assert.True(t, domain.IsBusiness(ledger.Save(order, c)))

	c = visaCharge("CHG1", 0)
	assert.True(t, domain.IsBusiness(ledger.Save(order, c)))

	c = visaCharge("CHG1", 2000)
	c.Currency = ""
	assert.True(t, domain.IsBusiness(ledger.Save(order, c)))

	c = visaCharge("CHG1", 2000)
	c.Status = domain.ChargeStatusRefunded
	assert.True(t, domain.IsBusiness(ledger.Save(order, c)))

	require.NoError(t, ledger.Save(order, visaCharge("CHG1", 2000)))
	assert.ErrorIs(t, ledger.Save(order, visaCharge("CHG1", 2000)), domain.ErrDuplicateCharge)
}

func TestSaveWalletChargeWithoutExpiry(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")

	c := visaCharge("CHG1", 2000)
	c.ExpMonth = ""
	c.ExpYear = ""
	require.NoError(t, ledger.Save(order, c))

	got, err := ledger.Get(order, "CHG1")
	require.NoError(t, err)
	assert.Empty(t, got.ExpMonth)
	assert.Empty(t, got.ExpYear)
}

func TestMarkRefunded(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")
	require.NoError(t, ledger.Save(order, visaCharge("CHG1", 2000)))

	require.NoError(t, ledger.MarkRefunded(order, "CHG1"))
	got, err := ledger.Get(order, "CHG1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusRefunded, got.Status)

	err = ledger.MarkRefunded(order, "CHG1")
	require.True(t, domain.IsBusiness(err))
	assert.Contains(t, err.Error(), "already refunded")

	assert.ErrorIs(t, ledger.MarkRefunded(order, "missing"), domain.ErrChargeNotFound)
}

func TestProjectionsOmitCardDetails(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")
	require.NoError(t, ledger.Save(order, visaCharge("CHG1", 2000)))

	projections, err := ledger.Projections(order)
	require.NoError(t, err)
	require.Len(t, projections, 1)
	assert.Equal(t, "CHG1", projections[0].ChargeID)
	assert.Equal(t, "VISA", projections[0].CardType)
	assert.Equal(t, "H2X 1Y4", projections[0].PostalCode)
}

func TestCorruptLedgerSurfacesError(t *testing.T) {
	ledger := NewLedger(zap.NewNop())
	order := store.NewMemoryOrder(41, "CAD", "50.00")
	require.NoError(t, order.MetaSet(domain.MetaCharges, "[broken"))

	_, err := ledger.List(order)
	assert.ErrorContains(t, err, "corrupt charge ledger")
}
