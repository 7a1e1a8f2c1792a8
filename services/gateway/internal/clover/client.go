// Package clover is a thin typed client for the WeeConnectPay payment API
// fronting Clover. All requests are form-encoded POSTs carrying the
// integration version; all responses are {result, data|error} envelopes.
package clover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// API is the set of payment operations the gateway performs remotely.
type API interface {
	CreateCustomer(ctx context.Context, profile CustomerProfile) (string, error)
	PrepareOrder(ctx context.Context, draft OrderDraft) (string, error)
	ChargeCard(ctx context.Context, orderUUID, tokenizedCard, ipAddress string, amount int64) (*ChargeResult, error)
	ChargeCustomTender(ctx context.Context, orderUUID, tenderLabel string, amount int64, ipAddress string) (*ChargeResult, error)
	RefundCharge(ctx context.Context, chargeUUID, reason, externalReference string, amount int64) (*RefundResult, error)
	RefundOrder(ctx context.Context, payload RefundPayload) (*RefundResult, error)
}

// ErrCustomerCreation is returned when customer creation does not yield a
// customer id.
var ErrCustomerCreation = errors.New("customer creation failed")

// Client implements API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	logger     *zap.Logger
}

// NewClient creates a payment API client. version is the integration version
// reported with every request.
func NewClient(baseURL, version string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		logger:     logger,
	}
}

// Endpoint paths.
func createCustomerPath() string { return "/v1/clover/customers" }
func prepareOrderPath() string   { return "/v1/clover/orders" }
func createOrderChargePath(orderUUID string) string {
	return fmt.Sprintf("/v1/clover/orders/%s/charge", orderUUID)
}
func createOrderCustomTenderChargePath(orderUUID string) string {
	return fmt.Sprintf("/v1/clover/orders/%s/custom-tender/charge", orderUUID)
}
func refundChargePath(chargeUUID string) string {
	return fmt.Sprintf("/v1/clover/charges/%s/refund", chargeUUID)
}
func refundOrderPath(orderUUID string) string {
	return fmt.Sprintf("/v1/clover/orders/%s/refund", orderUUID)
}

// CreateCustomer creates (or retrieves) a remote customer and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, profile CustomerProfile) (string, error) {
	payload, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("failed to marshal customer profile: %w", err)
	}

	form := url.Values{}
	form.Set("customer", string(payload))

	envelope, err := c.postForm(ctx, createCustomerPath(), form)
	if err != nil {
		return "", err
	}

	var data struct {
		ID string `json:"id"`
	}
	if envelope.Result == "success" && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, &data); err == nil && data.ID != "" {
			return data.ID, nil
		}
	}
	return "", fmt.Errorf("%w: result=%q", ErrCustomerCreation, envelope.Result)
}

// PrepareOrder creates a remote order for payment and returns its uuid.
// Idempotent reuse of an already-prepared order is the caller's concern: the
// processor caches the uuid in order metadata and skips this call entirely.
func (c *Client) PrepareOrder(ctx context.Context, draft OrderDraft) (string, error) {
	payload, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order draft: %w", err)
	}

	form := url.Values{}
	form.Set("order", string(payload))
	form.Set("customer_id", draft.CustomerID)

	envelope, err := c.postForm(ctx, prepareOrderPath(), form)
	if err != nil {
		return "", err
	}
	if envelope.Result != "success" {
		return "", &RequestError{Op: "prepare order", Result: envelope.Result, APIError: envelope.Error}
	}

	var data struct {
		UUID string `json:"uuid"`
	}
	if envelope.Data == nil || json.Unmarshal(envelope.Data, &data) != nil || data.UUID == "" {
		return "", &RequestError{Op: "prepare order", Result: envelope.Result, APIError: envelope.Error}
	}
	return data.UUID, nil
}

// ChargeCard charges a tokenized card against a remote order.
//
// amount must always be sent explicitly: when the field is missing the
// processor charges the remote order's full total instead of the intended
// amount, which breaks split payments with custom tenders.
func (c *Client) ChargeCard(ctx context.Context, orderUUID, tokenizedCard, ipAddress string, amount int64) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("tokenized_card", tokenizedCard)
	form.Set("ip_address", ipAddress)
	form.Set("amount", strconv.FormatInt(amount, 10))

	envelope, err := c.postForm(ctx, createOrderChargePath(orderUUID), form)
	if err != nil {
		return nil, err
	}
	return decodeChargeResult("charge card", envelope)
}

// ChargeCustomTender charges a custom tender (gift card, loyalty card)
// against a remote order.
func (c *Client) ChargeCustomTender(ctx context.Context, orderUUID, tenderLabel string, amount int64, ipAddress string) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("tender_label", tenderLabel)
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("ip_address", ipAddress)

	envelope, err := c.postForm(ctx, createOrderCustomTenderChargePath(orderUUID), form)
	if err != nil {
		return nil, err
	}
	return decodeChargeResult("charge custom tender", envelope)
}

// RefundCharge refunds a single remote charge.
func (c *Client) RefundCharge(ctx context.Context, chargeUUID, reason, externalReference string, amount int64) (*RefundResult, error) {
	switch reason {
	case RefundReasonRequestedByCustomer, RefundReasonDuplicate, RefundReasonFraudulent:
	default:
		return nil, fmt.Errorf("invalid refund reason %q", reason)
	}
	if len(externalReference) > 12 {
		return nil, fmt.Errorf("external reference must not exceed 12 characters")
	}

	form := url.Values{}
	form.Set("reason", reason)
	form.Set("external_reference", externalReference)
	form.Set("amount", strconv.FormatInt(amount, 10))

	envelope, err := c.postForm(ctx, refundChargePath(chargeUUID), form)
	if err != nil {
		return nil, err
	}
	return decodeRefundResult("refund charge", envelope)
}

// RefundOrder submits an orchestrated order refund with itemized lines.
func (c *Client) RefundOrder(ctx context.Context, payload RefundPayload) (*RefundResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund payload: %w", err)
	}

	form := url.Values{}
	form.Set("refund", string(body))

	envelope, err := c.postForm(ctx, refundOrderPath(payload.CloverOrderUUID), form)
	if err != nil {
		return nil, err
	}
	return decodeRefundResult("refund order", envelope)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*Envelope, error) {
	form.Set("integration_version", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment API response: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("malformed payment API response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, &InvalidResponseError{Body: string(body), Err: err}
	}

	c.logger.Debug("payment API response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("result", envelope.Result))

	return &envelope, nil
}

func decodeChargeResult(op string, envelope *Envelope) (*ChargeResult, error) {
	var data struct {
		Status    string    `json:"clover_payment_status"`
		PaymentID string    `json:"clover_payment_id"`
		Currency  string    `json:"clover_charge_currency"`
		OrderUUID string    `json:"clover_order_uuid"`
		AmountDue *int64    `json:"clover_order_amount_due"`
		Error     *APIError `json:"error"`
	}
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, &InvalidResponseError{Body: string(envelope.Data), Err: err}
		}
	}

	// Declines arrive with a "failed" payment status inside the data object;
	// only a response with no recognizable charge outcome is a hard request
	// failure.
	if data.Status == "" && envelope.Result != "success" {
		return nil, &RequestError{Op: op, Result: envelope.Result, APIError: envelope.Error}
	}

	result := &ChargeResult{
		Status:    data.Status,
		PaymentID: data.PaymentID,
		Currency:  data.Currency,
		OrderUUID: data.OrderUUID,
		AmountDue: data.AmountDue,
		Err:       data.Error,
	}
	if result.Err == nil {
		result.Err = envelope.Error
	}
	return result, nil
}

func decodeRefundResult(op string, envelope *Envelope) (*RefundResult, error) {
	if envelope.Result != "success" || envelope.Data == nil {
		return nil, &RequestError{Op: op, Result: envelope.Result, APIError: envelope.Error}
	}
	var result RefundResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, &InvalidResponseError{Body: string(envelope.Data), Err: err}
	}
	return &result, nil
}
