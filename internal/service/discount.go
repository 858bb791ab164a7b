package service

import (
	"context"
	"errors"

	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
)

// ErrBothDiscounts возвращается, если в запросе указаны и награда, и промокод.
var (
	ErrBothDiscounts = errors.New("reward and promotion cannot be combined")
	// ErrRewardNotEligible возвращается, если награда не найдена, чужая,
	// неактивна или уже использована. Причины намеренно не различаются.
	ErrRewardNotEligible = errors.New("reward not eligible")
	// ErrPromoRequiresBooking возвращается при попытке применить промокод к заказу без записи.
	ErrPromoRequiresBooking = errors.New("promotion code requires a booking")
	// ErrPromoNotFound возвращается, если промокод не найден у клиента в салоне записи.
	ErrPromoNotFound = errors.New("promotion code not found")
	// ErrPromoExpired возвращается, если срок действия промокода истёк.
	ErrPromoExpired = errors.New("promotion code expired")
)

// resolveDiscount проверяет запрошенную скидку и возвращает не более одного
// источника: награду лояльности или промокод. Срок действия промокода
// проверяется в момент использования, а не фоновой чисткой, поэтому промокод
// со статусом ISSUED может оказаться просроченным.
func (s *Service) resolveDiscount(ctx context.Context, req model.SettlementRequest, booking *model.Booking) (*model.Discount, error) {
	hasReward := req.RewardID != nil
	hasPromo := req.PromoCode != ""

	if hasReward && hasPromo {
		return nil, ErrBothDiscounts
	}

	if hasReward {
		var merchantID *int64
		if booking != nil {
			merchantID = &booking.MerchantID
		}

		reward, err := s.repo.GetActiveReward(ctx, *req.RewardID, req.CustomerID, merchantID)
		if err != nil {
			if errors.Is(err, repository.ErrRewardNotFound) {
				return nil, ErrRewardNotEligible
			}
			return nil, err
		}

		return &model.Discount{
			Kind:       model.DiscountKindLoyalty,
			Percentage: reward.DiscountPercentage,
			RewardID:   &reward.ID,
		}, nil
	}

	if hasPromo {
		if booking == nil {
			return nil, ErrPromoRequiresBooking
		}

		promo, err := s.repo.GetIssuedPromotion(ctx, req.PromoCode, req.CustomerID, booking.MerchantID)
		if err != nil {
			if errors.Is(err, repository.ErrPromotionNotFound) {
				return nil, ErrPromoNotFound
			}
			return nil, err
		}

		if promo.ExpiresAt != nil && promo.ExpiresAt.Before(s.now()) {
			return nil, ErrPromoExpired
		}

		return &model.Discount{
			Kind:        model.DiscountKindPromo,
			Percentage:  promo.DiscountPercentage,
			PromotionID: &promo.ID,
		}, nil
	}

	return &model.Discount{Kind: model.DiscountKindNone}, nil
}
