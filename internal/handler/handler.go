// Package handler содержит HTTP-обработчики API сервиса расчётов салона.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/strands/settlement-system/internal/middleware"
	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
	"github.com/strands/settlement-system/internal/service"
	"github.com/strands/settlement-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SettlePayment(ctx context.Context, req model.SettlementRequest) (*model.SettlementResult, error)
	ListRewards(ctx context.Context, customerID int64) ([]model.Reward, error)
	ListPromotions(ctx context.Context, customerID int64) ([]model.Promotion, error)
	IssuePromotion(ctx context.Context, issue model.PromotionIssue) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса расчётов.
type Handler struct {
	service      Service
	logger       *zap.Logger
	customerAuth *middleware.AuthMiddleware
	merchantAuth *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, customerAuth, merchantAuth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:      s,
		logger:       logger,
		customerAuth: customerAuth,
		merchantAuth: merchantAuth,
	}
}

type settleRequest struct {
	InstrumentID     int64   `json:"instrument_id"`
	BillingAddressID int64   `json:"billing_address_id"`
	Amount           float64 `json:"amount"`
	BookingID        *int64  `json:"booking_id,omitempty"`
	OrderID          *int64  `json:"order_id,omitempty"`
	RewardID         *int64  `json:"reward_id,omitempty"`
	PromoCode        string  `json:"promo_code,omitempty"`
}

type settleResponse struct {
	PaymentID      int64    `json:"payment_id"`
	Amount         float64  `json:"amount"`
	OriginalAmount *float64 `json:"original_amount,omitempty"`
	DiscountType   string   `json:"discount_type,omitempty"`
}

// SettlePayment проводит платёж текущего клиента по записи или заказу.
func (h *Handler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.SettlePayment(r.Context(), model.SettlementRequest{
		CustomerID:       customerID,
		InstrumentID:     req.InstrumentID,
		BillingAddressID: req.BillingAddressID,
		Amount:           req.Amount,
		BookingID:        req.BookingID,
		OrderID:          req.OrderID,
		RewardID:         req.RewardID,
		PromoCode:        req.PromoCode,
	})
	if err != nil {
		h.writeSettleError(w, err, customerID)
		return
	}

	resp := settleResponse{
		PaymentID:    res.PaymentID,
		Amount:       float64(res.AmountCents) / 100,
		DiscountType: string(res.DiscountKind),
	}
	if res.OriginalCents != nil {
		v := float64(*res.OriginalCents) / 100
		resp.OriginalAmount = &v
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) writeSettleError(w http.ResponseWriter, err error, customerID int64) {
	switch {
	case errors.Is(err, validation.ErrAmountNotPositive),
		errors.Is(err, service.ErrPaymentTarget),
		errors.Is(err, service.ErrBothDiscounts),
		errors.Is(err, service.ErrPromoRequiresBooking),
		errors.Is(err, service.ErrPromoExpired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrBookingNotOwned):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrInstrumentNotFound),
		errors.Is(err, repository.ErrAddressNotFound),
		errors.Is(err, service.ErrRewardNotEligible),
		errors.Is(err, service.ErrPromoNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrBookingNotPayable),
		errors.Is(err, repository.ErrRewardUnavailable),
		errors.Is(err, repository.ErrPromotionUnavailable),
		errors.Is(err, repository.ErrBookingConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("settle payment error", zap.Error(err), zap.Int64("customerID", customerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type rewardResponse struct {
	ID                 int64  `json:"id"`
	MerchantID         int64  `json:"merchant_id"`
	DiscountPercentage int64  `json:"discount_percentage"`
	Note               string `json:"note,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// GetRewards возвращает активные награды текущего клиента.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	rewards, err := h.service.ListRewards(r.Context(), customerID)
	if err != nil {
		h.logger.Error("get rewards error", zap.Error(err), zap.Int64("customerID", customerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(rewards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, rewardResponse{
			ID:                 rw.ID,
			MerchantID:         rw.MerchantID,
			DiscountPercentage: rw.DiscountPercentage,
			Note:               rw.Note,
			CreatedAt:          rw.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type promotionResponse struct {
	ID                 int64   `json:"id"`
	MerchantID         int64   `json:"merchant_id"`
	Code               string  `json:"code"`
	DiscountPercentage int64   `json:"discount_percentage"`
	ExpiresAt          *string `json:"expires_at,omitempty"`
}

// GetPromotions возвращает выданные промокоды текущего клиента.
func (h *Handler) GetPromotions(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	promotions, err := h.service.ListPromotions(r.Context(), customerID)
	if err != nil {
		h.logger.Error("get promotions error", zap.Error(err), zap.Int64("customerID", customerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(promotions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]promotionResponse, 0, len(promotions))
	for _, p := range promotions {
		pr := promotionResponse{
			ID:                 p.ID,
			MerchantID:         p.MerchantID,
			Code:               p.Code,
			DiscountPercentage: p.DiscountPercentage,
		}
		if p.ExpiresAt != nil {
			v := p.ExpiresAt.Format(time.RFC3339)
			pr.ExpiresAt = &v
		}
		resp = append(resp, pr)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type issuePromotionRequest struct {
	CustomerID         int64      `json:"customer_id"`
	Code               string     `json:"code"`
	DiscountPercentage int64      `json:"discount_percentage"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

type issuePromotionResponse struct {
	PromotionID int64 `json:"promotion_id"`
}

// IssuePromotion выдаёт промокод клиенту от имени текущего салона.
func (h *Handler) IssuePromotion(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req issuePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.IssuePromotion(r.Context(), model.PromotionIssue{
		MerchantID:         merchantID,
		CustomerID:         req.CustomerID,
		Code:               req.Code,
		DiscountPercentage: req.DiscountPercentage,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPromotionData):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrPromotionCodeExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("issue promotion error", zap.Error(err), zap.Int64("merchantID", merchantID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(issuePromotionResponse{PromotionID: id}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
