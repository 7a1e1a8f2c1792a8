// Package handler exposes the gateway's HTTP surface: the public checkout
// and refund endpoints and the admin charge/tender/log endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/charge"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/domain"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/logbuffer"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/processor"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/refund"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/tender"
	"github.com/weeconnectpay/clover-gateway/services/gateway/internal/token"
)

// genericFailure is the only error text a shopper ever sees for remote or
// internal failures; detail stays in the logs.
const genericFailure = "Payment processing failed. Please try again."

// OrderStore loads orders for the HTTP layer.
type OrderStore interface {
	Get(ctx context.Context, orderID int64) (domain.Order, error)
}

// Handler wires the HTTP routes to the gateway components.
type Handler struct {
	store     OrderStore
	processor *processor.Processor
	refunds   *refund.Orchestrator
	tenders   *tender.Ledger
	charges   *charge.Ledger
	tokens    token.Store
	logs      *logbuffer.Buffer
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New creates the handler. limiter guards the public checkout endpoint.
func New(store OrderStore, proc *processor.Processor, refunds *refund.Orchestrator,
	tenders *tender.Ledger, charges *charge.Ledger, tokens token.Store,
	logs *logbuffer.Buffer, limiter *rate.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		processor: proc,
		refunds:   refunds,
		tenders:   tenders,
		charges:   charges,
		tokens:    tokens,
		logs:      logs,
		limiter:   limiter,
		logger:    logger,
	}
}

// Router builds the chi router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/checkout/{orderID}/pay", h.pay)
		r.Post("/orders/{orderID}/refund", h.refundOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/orders/{orderID}/charges", h.listCharges)
			r.Post("/orders/{orderID}/charges/{chargeID}/refund", h.refundCharge)
			r.Post("/orders/{orderID}/tenders/{tenderID}/refund", h.refundTender)
			r.Get("/logs", h.queryLogs)
			r.Get("/logs/download", h.downloadLogs)
			r.Delete("/logs", h.clearLogs)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pay handles one checkout submission. The storefront expects a 200 with
// {result, redirect} even for declines; only transport-level problems get a
// non-200.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}

	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed form submission"})
		return
	}

	input := processor.FormInput{
		Token:          r.PostFormValue("token"),
		CardBrand:      r.PostFormValue("card-brand"),
		CardLast4:      r.PostFormValue("card-last4"),
		CardExpMonth:   r.PostFormValue("card-exp-month"),
		CardExpYear:    r.PostFormValue("card-exp-year"),
		TokenizedZip:   r.PostFormValue("tokenized-zip"),
		RecaptchaToken: r.PostFormValue("recaptcha-token"),
		Honeypot:       r.PostFormValue("hp-feedback-required"),
	}

	outcome, err := h.processor.ProcessOrderPayment(r.Context(), order, input)
	if err != nil {
		h.logger.Error("checkout failed",
			zap.Int64("orderId", order.ID()),
			zap.Error(err))
		if domain.IsBusiness(err) {
			writeJSON(w, http.StatusOK, map[string]string{"result": processor.ResultFail, "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"result": processor.ResultFail, "message": genericFailure})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if err := h.refunds.RefundOrder(r.Context(), order, req.Amount, req.Reason); err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

type chargeView struct {
	domain.ChargeProjection
	RefundToken string `json:"refund_token,omitempty"`
}

type tenderView struct {
	domain.Tender
	RefundToken string `json:"refund_token,omitempty"`
}

// listCharges returns the order's charges and tenders, each refundable
// entry carrying a freshly minted single-use refund token.
func (h *Handler) listCharges(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	projections, err := h.charges.Projections(order)
	if err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	tenders, err := h.tenders.List(order)
	if err != nil {
		h.writeError(w, order.ID(), err)
		return
	}

	chargeViews := make([]chargeView, 0, len(projections))
	for _, p := range projections {
		view := chargeView{ChargeProjection: p}
		if p.Status == domain.ChargeStatusSuccess {
			tok, err := h.tokens.Mint(r.Context(), token.ChargeRefundScope(order.ID(), p.ChargeID))
			if err != nil {
				h.writeError(w, order.ID(), err)
				return
			}
			view.RefundToken = tok
		}
		chargeViews = append(chargeViews, view)
	}

	tenderViews := make([]tenderView, 0, len(tenders))
	for _, t := range tenders {
		view := tenderView{Tender: t}
		if t.Status == domain.TenderStatusSuccess {
			tok, err := h.tokens.Mint(r.Context(), token.TenderRefundScope(order.ID(), t.ID))
			if err != nil {
				h.writeError(w, order.ID(), err)
				return
			}
			view.RefundToken = tok
		}
		tenderViews = append(tenderViews, view)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"charges": chargeViews,
		"tenders": tenderViews,
	})
}

type chargeRefundRequest struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

func (h *Handler) refundCharge(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	chargeID := chi.URLParam(r, "chargeID")

	var req chargeRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	valid, err := h.tokens.Consume(r.Context(), token.ChargeRefundScope(order.ID(), chargeID), req.Token)
	if err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or expired refund token"})
		return
	}

	if err := h.refunds.RefundCharge(r.Context(), order, chargeID, req.Amount); err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

type tenderRefundRequest struct {
	Token string `json:"token"`
}

func (h *Handler) refundTender(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	tenderID := chi.URLParam(r, "tenderID")

	var req tenderRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	valid, err := h.tokens.Consume(r.Context(), token.TenderRefundScope(order.ID(), tenderID), req.Token)
	if err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or expired refund token"})
		return
	}

	result, err := h.refunds.RefundTender(r.Context(), order, tenderID)
	if err != nil {
		h.writeError(w, order.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":    "success",
		"refund_id": result.ID,
		"amount":    result.Amount,
	})
}

func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.logs.Query(logQuery(r)))
}

func (h *Handler) downloadLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="gateway-logs.txt"`)
	_, _ = w.Write([]byte(h.logs.Render(logQuery(r))))
}

func (h *Handler) clearLogs(w http.ResponseWriter, _ *http.Request) {
	h.logs.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func logQuery(r *http.Request) logbuffer.Query {
	q := logbuffer.Query{Level: r.URL.Query().Get("level")}
	if from := r.URL.Query().Get("from"); from != "" {
		if parsed, err := time.Parse(time.RFC3339, from); err == nil {
			q.From = parsed
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if parsed, err := time.Parse(time.RFC3339, to); err == nil {
			q.To = parsed
		}
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return q
}

// loadOrder parses the orderID route param and loads the order, writing the
// error response itself on failure.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order id"})
		return nil, false
	}
	order, err := h.store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return nil, false
		}
		h.logger.Error("failed to load order", zap.Int64("orderId", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": genericFailure})
		return nil, false
	}
	return order, true
}

// writeError maps component errors onto HTTP responses: business rules and
// not-found sentinels surface their message, everything else collapses to
// the generic failure text.
func (h *Handler) writeError(w http.ResponseWriter, orderID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrChargeNotFound),
		errors.Is(err, domain.ErrTenderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsBusiness(err):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.Int64("orderId", orderID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": genericFailure})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
