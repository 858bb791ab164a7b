package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/strands/settlement-system/internal/middleware"
	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
	"github.com/strands/settlement-system/internal/service"
)

type stubService struct {
	settleRes *model.SettlementResult
	settleErr error
	settleReq *model.SettlementRequest

	rewards    []model.Reward
	rewardsErr error

	promotions    []model.Promotion
	promotionsErr error

	issueID  int64
	issueErr error
}

func (s *stubService) SettlePayment(ctx context.Context, req model.SettlementRequest) (*model.SettlementResult, error) {
	s.settleReq = &req
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return s.settleRes, nil
}

func (s *stubService) ListRewards(ctx context.Context, customerID int64) ([]model.Reward, error) {
	return s.rewards, s.rewardsErr
}

func (s *stubService) ListPromotions(ctx context.Context, customerID int64) ([]model.Promotion, error) {
	return s.promotions, s.promotionsErr
}

func (s *stubService) IssuePromotion(ctx context.Context, issue model.PromotionIssue) (int64, error) {
	return s.issueID, s.issueErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	customerAuth := middleware.NewAuthMiddleware("test-secret", middleware.CustomerCookieName)
	merchantAuth := middleware.NewAuthMiddleware("test-secret", middleware.MerchantCookieName)

	return NewHandler(svc, logger, customerAuth, merchantAuth)
}

func doCustomerRequest(t *testing.T, h *Handler, next http.HandlerFunc, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))

	rec := httptest.NewRecorder()
	h.customerAuth.SetAuthCookie(rec, 1)
	req.AddCookie(rec.Result().Cookies()[0])

	respRec := httptest.NewRecorder()
	h.customerAuth.Middleware(next).ServeHTTP(respRec, req)

	return respRec
}

func int64Ptr(v int64) *int64 { return &v }

func TestSettlePayment_Success(t *testing.T) {
	original := int64(10000)
	svc := &stubService{
		settleRes: &model.SettlementResult{
			PaymentID:     55,
			AmountCents:   8000,
			OriginalCents: &original,
			DiscountKind:  model.DiscountKindLoyalty,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(settleRequest{
		InstrumentID:     10,
		BillingAddressID: 20,
		Amount:           100.00,
		BookingID:        int64Ptr(7),
		RewardID:         int64Ptr(11),
	})

	rec := doCustomerRequest(t, h, h.SettlePayment, http.MethodPost, "/api/customer/payments", body)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp settleResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentID != 55 {
		t.Fatalf("payment_id = %d, want 55", resp.PaymentID)
	}
	if resp.Amount != 80.00 {
		t.Fatalf("amount = %v, want 80", resp.Amount)
	}
	if resp.OriginalAmount == nil || *resp.OriginalAmount != 100.00 {
		t.Fatalf("original_amount = %v, want 100", resp.OriginalAmount)
	}
	if resp.DiscountType != "loyalty" {
		t.Fatalf("discount_type = %q, want loyalty", resp.DiscountType)
	}

	if svc.settleReq == nil || svc.settleReq.CustomerID != 1 {
		t.Fatalf("customer id must come from the auth cookie, got %+v", svc.settleReq)
	}
}

func TestSettlePayment_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/customer/payments", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()

	h.customerAuth.Middleware(http.HandlerFunc(h.SettlePayment)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSettlePayment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "both discounts", err: service.ErrBothDiscounts, want: http.StatusBadRequest},
		{name: "expired promo", err: service.ErrPromoExpired, want: http.StatusBadRequest},
		{name: "foreign booking", err: service.ErrBookingNotOwned, want: http.StatusForbidden},
		{name: "instrument missing", err: repository.ErrInstrumentNotFound, want: http.StatusNotFound},
		{name: "reward not eligible", err: service.ErrRewardNotEligible, want: http.StatusNotFound},
		{name: "reward race lost", err: repository.ErrRewardUnavailable, want: http.StatusConflict},
		{name: "promo race lost", err: repository.ErrPromotionUnavailable, want: http.StatusConflict},
		{name: "booking race lost", err: repository.ErrBookingConflict, want: http.StatusConflict},
		{name: "unexpected", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{settleErr: tt.err})

			body, _ := json.Marshal(settleRequest{Amount: 10, BookingID: int64Ptr(7)})
			rec := doCustomerRequest(t, h, h.SettlePayment, http.MethodPost, "/api/customer/payments", body)

			if rec.Result().StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.want)
			}
		})
	}
}

func TestGetRewards_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{rewards: []model.Reward{}})

	rec := doCustomerRequest(t, h, h.GetRewards, http.MethodGet, "/api/customer/rewards", nil)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetPromotions_JSONResponse(t *testing.T) {
	h := newTestHandler(t, &stubService{
		promotions: []model.Promotion{
			{ID: 21, MerchantID: 3, CustomerID: 1, Code: "SPRING", DiscountPercentage: 10, Status: model.PromotionStatusIssued},
		},
	})

	rec := doCustomerRequest(t, h, h.GetPromotions, http.MethodGet, "/api/customer/promotions", nil)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []promotionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Code != "SPRING" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestIssuePromotion_Conflict(t *testing.T) {
	h := newTestHandler(t, &stubService{issueErr: repository.ErrPromotionCodeExists})

	body, _ := json.Marshal(issuePromotionRequest{
		CustomerID:         1,
		Code:               "SPRING",
		DiscountPercentage: 10,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/merchant/promotions", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	h.merchantAuth.SetAuthCookie(rec, 3)
	req.AddCookie(rec.Result().Cookies()[0])

	respRec := httptest.NewRecorder()
	h.merchantAuth.Middleware(http.HandlerFunc(h.IssuePromotion)).ServeHTTP(respRec, req)

	if respRec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", respRec.Result().StatusCode, http.StatusConflict)
	}
}
