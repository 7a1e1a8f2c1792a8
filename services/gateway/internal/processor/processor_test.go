package processor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/charge"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/clover"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/store"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/tender"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/verify"
)

type fakeAPI struct {
	customerCalls int
	prepareCalls  int
	cardCharges   []int64
	tenderCharges []int64
	cardResult    *clover.ChargeResult
	cardErr       error
	tenderResults []*clover.ChargeResult
	tenderErr     error
	customerID    string
	orderUUID     string
	prepareErr    error
}

func (f *fakeAPI) CreateCustomer(context.Context, clover.CustomerProfile) (string, error) {
	f.customerCalls++
	if f.customerID == "" {
		f.customerID = "CUST1"
	}
	return f.customerID, nil
}

func (f *fakeAPI) PrepareOrder(context.Context, clover.OrderDraft) (string, error) {
	f.prepareCalls++
	if f.prepareErr != nil {
		return "", f.prepareErr
	}
	if f.orderUUID == "" {
		f.orderUUID = "ORD-UUID"
	}
	return f.orderUUID, nil
}

func (f *fakeAPI) ChargeCard(_ context.Context, _, _, _ string, amount int64) (*clover.ChargeResult, error) {
	f.cardCharges = append(f.cardCharges, amount)
	return f.cardResult, f.cardErr
}

func (f *fakeAPI) ChargeCustomTender(_ context.Context, _, _ string, amount int64, _ string) (*clover.ChargeResult, error) {
	f.tenderCharges = append(f.tenderCharges, amount)
	if f.tenderErr != nil {
		return nil, f.tenderErr
	}
	result := f.tenderResults[0]
	f.tenderResults = f.tenderResults[1:]
	return result, nil
}

func (f *fakeAPI) RefundCharge(context.Context, string, string, string, int64) (*clover.RefundResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) RefundOrder(context.Context, clover.RefundPayload) (*clover.RefundResult, error) {
	return nil, errors.New("not used")
}

type nopCallback struct{}

func (nopCallback) ChargeCreation(context.Context, domain.Order, domain.Tender, bool) {}
func (nopCallback) ChargeRefund(context.Context, domain.Order, domain.Tender)         {}

type fakeVerifier struct {
	assessment *verify.Assessment
	err        error
	calls      int
}

func (f *fakeVerifier) Assess(context.Context, string, string) (*verify.Assessment, error) {
	f.calls++
	return f.assessment, f.err
}

type fixture struct {
	api       *fakeAPI
	tenders   *tender.Ledger
	charges   *charge.Ledger
	verifier  *fakeVerifier
	processor *Processor
	order     *store.MemoryOrder
}

func newFixture(t *testing.T, total string, cfg Config) *fixture {
	t.Helper()
	api := &fakeAPI{}
	registry := tender.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register("gift-card", nopCallback{}))
	tenders := tender.NewLedger(registry, api, zap.NewNop())
	charges := charge.NewLedger(zap.NewNop())
	verifier := &fakeVerifier{}

	order := store.NewMemoryOrder(41, "CAD", total)
	order.ReceivedPageURL = "https://shop.example/received/41"
	order.ViewPageURL = "https://shop.example/view/41"
	order.BillingAddr = domain.Address{
		FirstName: "Jean", LastName: "Tremblay", Email: "jean@example.com",
		PostalCode: "H2X 1Y4",
	}

	return &fixture{
		api:       api,
		tenders:   tenders,
		charges:   charges,
		verifier:  verifier,
		processor: New(api, tenders, charges, verifier, nil, cfg, zap.NewNop()),
		order:     order,
	}
}

func cardInput() FormInput {
	return FormInput{
		Token:        "tok_abc",
		CardBrand:    "VISA",
		CardLast4:    "4242",
		CardExpMonth: "12",
		CardExpYear:  "2028",
		TokenizedZip: "H2X 1Y4",
	}
}

func pendingGiftTender(id string, amount int64) domain.Tender {
	return domain.Tender{
		ID: id, Amount: amount, Provider: "gift-card",
		Status: domain.TenderStatusPending, Callback: "gift-card",
	}
}

func (f *fixture) addTender(t *testing.T, td domain.Tender) {
	t.Helper()
	_, err := f.tenders.Add(f.order, td)
	require.NoError(t, err)
}

func TestCardOnlyCheckout(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	f.api.cardResult = &clover.ChargeResult{
		Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad",
	}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.Equal(t, f.order.ReceivedPageURL, outcome.Redirect)

	require.Len(t, f.api.cardCharges, 1)
	assert.Equal(t, int64(5000), f.api.cardCharges[0])

	charges, err := f.charges.List(f.order)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "PAY1", charges[0].ChargeID)
	assert.Equal(t, domain.ChargeStatusSuccess, charges[0].Status)
	assert.True(t, f.order.Paid)

	brand, _ := f.order.MetaGet(domain.MetaCardBrand)
	assert.Equal(t, "VISA", brand)
	paymentUUID, _ := f.order.MetaGet(domain.MetaCloverPaymentUUID)
	assert.Equal(t, "PAY1", paymentUUID)
}

func TestZeroTotalTenderOnlyCheckout(t *testing.T) {
	f := newFixture(t, "0.00", Config{})
	f.addTender(t, pendingGiftTender("t1", 1000))
	f.api.tenderResults = []*clover.ChargeResult{
		{Status: clover.ChargeStatusPaid, PaymentID: "TCHG1"},
	}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)

	require.Len(t, f.api.tenderCharges, 1)
	assert.Equal(t, int64(1000), f.api.tenderCharges[0])
	assert.Empty(t, f.api.cardCharges, "card charge step must be skipped")
	assert.True(t, f.order.Paid)

	got, err := f.tenders.Get(f.order, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TenderStatusSuccess, got.Status)
	assert.Equal(t, "TCHG1", got.ChargeID)
}

func TestSplitTenderPlusCardUsesRemoteAmountDue(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	f.addTender(t, pendingGiftTender("t1", 2000))
	due := int64(3000)
	f.api.tenderResults = []*clover.ChargeResult{
		{Status: clover.ChargeStatusPaid, PaymentID: "TCHG1", AmountDue: &due},
	}
	f.api.cardResult = &clover.ChargeResult{
		Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad",
	}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)

	require.Len(t, f.api.cardCharges, 1)
	assert.Equal(t, int64(3000), f.api.cardCharges[0],
		"the card charge must use the remote amount due, not a local recomputation")
}

func TestHoneypotCancelsWithoutRemoteCalls(t *testing.T) {
	f := newFixture(t, "50.00", Config{HoneypotEnabled: true})
	input := cardInput()
	input.Honeypot = "I am a bot"

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, input)
	require.NoError(t, err)
	assert.Equal(t, ResultFail, outcome.Result)
	assert.Equal(t, domain.OrderStatusCancelled, f.order.Status())
	assert.Zero(t, f.api.customerCalls)
	assert.Zero(t, f.api.prepareCalls)
	assert.Empty(t, f.api.cardCharges)
	assert.Empty(t, f.api.tenderCharges)
	require.NotEmpty(t, f.order.Notes)
	assert.Contains(t, f.order.Notes[0], "I am a bot")
}

func TestHoneypotFiresOnZeroTotalOrders(t *testing.T) {
	f := newFixture(t, "0.00", Config{HoneypotEnabled: true})
	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{Honeypot: "x"})
	require.NoError(t, err)
	assert.Equal(t, ResultFail, outcome.Result)
	assert.Equal(t, domain.OrderStatusCancelled, f.order.Status())
	assert.False(t, f.order.Paid)
}

func TestZeroTotalNoTendersCompletesImmediately(t *testing.T) {
	f := newFixture(t, "0.00", Config{})
	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.True(t, f.order.Paid)
	assert.Zero(t, f.api.customerCalls)
	assert.Zero(t, f.api.prepareCalls)
}

func TestTenderOrderAlreadyPaidMarksPaymentComplete(t *testing.T) {
	f := newFixture(t, "0.00", Config{})
	f.addTender(t, pendingGiftTender("t1", 1000))
	f.api.tenderResults = []*clover.ChargeResult{
		{
			Status: clover.ChargeStatusFailed,
			Err:    &clover.APIError{Code: clover.ErrorCodeOrderAlreadyPaid, Message: "already paid"},
		},
	}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.True(t, f.order.Paid)
	assert.Empty(t, f.api.cardCharges)

	var found bool
	for _, note := range f.order.Notes {
		if strings.Contains(note, "Clover dashboard") {
			found = true
		}
	}
	assert.True(t, found, "expected a check-the-dashboard note")
}

func TestTenderFailureContinuesToNextTender(t *testing.T) {
	f := newFixture(t, "0.00", Config{})
	f.addTender(t, pendingGiftTender("t1", 600))
	f.addTender(t, pendingGiftTender("t2", 400))
	f.api.tenderResults = []*clover.ChargeResult{
		{Status: clover.ChargeStatusFailed, Err: &clover.APIError{Code: "card_declined", Message: "no balance"}},
		{Status: clover.ChargeStatusPaid, PaymentID: "TCHG2"},
	}

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.NoError(t, err)
	require.Len(t, f.api.tenderCharges, 2)

	first, err := f.tenders.Get(f.order, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TenderStatusFailed, first.Status)
	second, err := f.tenders.Get(f.order, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.TenderStatusSuccess, second.Status)
}

func TestUnrecognizedTenderStatusAborts(t *testing.T) {
	f := newFixture(t, "0.00", Config{})
	f.addTender(t, pendingGiftTender("t1", 1000))
	f.api.tenderResults = []*clover.ChargeResult{{Status: "sideways"}}

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized charge status")

	got, err := f.tenders.Get(f.order, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TenderStatusFailed, got.Status)
}

func TestCardDeclineRedirectsToViewOrder(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	f.api.cardResult = &clover.ChargeResult{
		Status: clover.ChargeStatusFailed,
		Err: &clover.APIError{
			Code: "card_declined", DeclineCode: "insufficient_funds",
			Message: "Your card was declined.", Charge: "CHG9",
		},
	}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.Equal(t, f.order.ViewPageURL, outcome.Redirect)
	assert.Equal(t, domain.OrderStatusFailed, f.order.Status())
	assert.False(t, f.order.Paid)

	var note string
	for _, n := range f.order.Notes {
		if strings.Contains(n, "card_declined") {
			note = n
		}
	}
	require.NotEmpty(t, note)
	assert.Contains(t, note, "insufficient_funds")
	assert.Contains(t, note, "Your card was declined.")
	assert.Contains(t, note, "4242")
}

func TestMissingTokenFails(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, FormInput{})
	require.NoError(t, err)
	assert.Equal(t, ResultFail, outcome.Result)
	assert.Zero(t, f.api.customerCalls)
}

func TestRecaptchaLowScoreCancelsWithRedirect(t *testing.T) {
	f := newFixture(t, "50.00", Config{RecaptchaEnabled: true, RecaptchaThreshold: 0.5})
	score := 0.1
	f.verifier.assessment = &verify.Assessment{Success: true, Score: &score}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result, "a cancelled-as-bot order must not re-show the payment form")
	assert.Equal(t, f.order.ViewPageURL, outcome.Redirect)
	assert.Equal(t, domain.OrderStatusCancelled, f.order.Status())
	assert.Zero(t, f.api.customerCalls)
}

func TestRecaptchaFrontEndErrorFailsOpen(t *testing.T) {
	f := newFixture(t, "50.00", Config{RecaptchaEnabled: true, RecaptchaThreshold: 0.5})
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}
	input := cardInput()
	input.RecaptchaToken = `{"error":"site key not loaded"}`

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, input)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
	assert.Zero(t, f.verifier.calls, "a front-end error report must not be sent for verification")

	var found bool
	for _, note := range f.order.Notes {
		if strings.Contains(note, "site key not loaded") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecaptchaVerificationErrorAborts(t *testing.T) {
	f := newFixture(t, "50.00", Config{RecaptchaEnabled: true, RecaptchaThreshold: 0.5})
	f.verifier.err = errors.New("siteverify unreachable")

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.Error(t, err)
	assert.Zero(t, f.api.customerCalls)
}

func TestRecaptchaMissingScoreProceeds(t *testing.T) {
	f := newFixture(t, "50.00", Config{RecaptchaEnabled: true, RecaptchaThreshold: 0.5})
	f.verifier.assessment = &verify.Assessment{Success: true}
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)
}

func TestPreparedOrderUUIDIsReused(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	require.NoError(t, f.order.MetaSet(domain.MetaCloverOrderUUID, "CACHED-UUID"))
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Zero(t, f.api.prepareCalls, "cached remote order uuid must be reused")
}

func TestOrderPreparationCachesUUIDAndFlags(t *testing.T) {
	f := newFixture(t, "50.00", Config{TaxIncluded: true})
	f.order.LineItems = []domain.LineItem{
		{ID: 1, Name: "Blue Hoodie", Quantity: 2, Total: "40.00", TotalTax: "6.00"},
	}
	f.order.Shipping = "4.00"
	f.order.ShippingTaxes = "0.60"
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)

	uuid, ok := f.order.MetaGet(domain.MetaCloverOrderUUID)
	require.True(t, ok)
	assert.Equal(t, "ORD-UUID", uuid)

	taxIncluded, _ := f.order.MetaGet(domain.MetaTaxIncluded)
	assert.Equal(t, "yes", taxIncluded)
	asLineItem, _ := f.order.MetaGet(domain.MetaShippingAsLineItem)
	assert.Equal(t, "yes", asLineItem)
	shippingName, _ := f.order.MetaGet(domain.MetaShippingLineItemName)
	assert.Equal(t, "Shipping", shippingName)
}

func TestPostTokenizationPostalNotes(t *testing.T) {
	f := newFixture(t, "50.00", Config{PostTokenizationChecks: true})
	f.order.ShippingAddr = domain.Address{PostalCode: "G1A 1A1"}
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}
	input := cardInput()
	input.TokenizedZip = "J4K 2N2"

	_, err := f.processor.ProcessOrderPayment(context.Background(), f.order, input)
	require.NoError(t, err)

	var shippingNote, tokenizedNote bool
	for _, note := range f.order.Notes {
		if strings.Contains(note, "shipping postal code") {
			shippingNote = true
		}
		if strings.Contains(note, "tokenize") {
			tokenizedNote = true
		}
	}
	assert.True(t, shippingNote)
	assert.True(t, tokenizedNote)
}

func TestDuplicateChargeRecordingIsTolerated(t *testing.T) {
	f := newFixture(t, "50.00", Config{})
	f.api.cardResult = &clover.ChargeResult{Status: clover.ChargeStatusPaid, PaymentID: "PAY1", Currency: "cad"}
	require.NoError(t, f.charges.Save(f.order, domain.CardCharge{
		ChargeID: "PAY1", Amount: 5000, Currency: "cad", CardType: "VISA",
		Last4: "4242", PostalCode: "H2X 1Y4", Status: domain.ChargeStatusSuccess,
	}))

	outcome, err := f.processor.ProcessOrderPayment(context.Background(), f.order, cardInput())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, outcome.Result)

	charges, err := f.charges.List(f.order)
	require.NoError(t, err)
	assert.Len(t, charges, 1, "the duplicate must not create a second record")
}
