// Package service реализует бизнес-логику сервиса расчётов салона.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
	"github.com/strands/settlement-system/internal/validation"
)

// ErrPaymentTarget возвращается, если в запросе не ровно одна цель платежа.
var (
	ErrPaymentTarget = errors.New("exactly one of booking or order must be set")
	// ErrBookingNotOwned возвращается, если запись принадлежит другому клиенту.
	ErrBookingNotOwned = errors.New("booking belongs to another customer")
	// ErrBookingNotPayable возвращается, если запись не в статусе PENDING.
	ErrBookingNotPayable = errors.New("booking is not payable")
	// ErrPromotionData возвращается при некорректных данных выдачи промокода.
	ErrPromotionData = errors.New("invalid promotion data")
)

const releaseTimeout = 5 * time.Second

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	CheckInstrumentOwnership(ctx context.Context, instrumentID, customerID int64) error
	CheckAddressOwnership(ctx context.Context, addressID, customerID int64) error
	GetActiveReward(ctx context.Context, rewardID, customerID int64, merchantID *int64) (*model.Reward, error)
	GetIssuedPromotion(ctx context.Context, code string, customerID, merchantID int64) (*model.Promotion, error)
	ListRewardsByCustomer(ctx context.Context, customerID int64) ([]model.Reward, error)
	ListPromotionsByCustomer(ctx context.Context, customerID int64) ([]model.Promotion, error)
	CreatePromotion(ctx context.Context, issue model.PromotionIssue) (int64, error)
	CommitSettlement(ctx context.Context, plan repository.SettlementPlan) (int64, error)
	ReleaseBooking(ctx context.Context, bookingID, customerID int64) (bool, error)
	GetBookingStaff(ctx context.Context, bookingID int64) ([]int64, error)
}

// Notifier описывает контракт внешней системы доставки уведомлений.
// Ошибки отправки логируются и никогда не влияют на результат расчёта.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}

// Service содержит бизнес-логику расчётов и работы со скидками.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и отправителем уведомлений.
// Отправитель может быть nil, тогда уведомления не отправляются.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SettlePayment проводит расчёт: валидирует запрос, подбирает не более одной
// скидки, атомарно фиксирует платёж с подтверждением записи и при любой
// неудаче атомарной фазы освобождает предварительную запись.
func (s *Service) SettlePayment(ctx context.Context, req model.SettlementRequest) (*model.SettlementResult, error) {
	cents, err := validation.AmountToCents(req.Amount)
	if err != nil {
		return nil, err
	}

	if (req.BookingID == nil) == (req.OrderID == nil) {
		return nil, ErrPaymentTarget
	}

	if err := s.repo.CheckInstrumentOwnership(ctx, req.InstrumentID, req.CustomerID); err != nil {
		return nil, err
	}

	if err := s.repo.CheckAddressOwnership(ctx, req.BillingAddressID, req.CustomerID); err != nil {
		return nil, err
	}

	var booking *model.Booking
	if req.BookingID != nil {
		booking, err = s.repo.GetBooking(ctx, *req.BookingID)
		if err != nil {
			return nil, err
		}
		if booking.CustomerID != req.CustomerID {
			return nil, ErrBookingNotOwned
		}
		if _, err := booking.Status.Transition(model.BookingEventSettle); err != nil {
			return nil, fmt.Errorf("%w: status %s", ErrBookingNotPayable, booking.Status)
		}
	}

	discount, err := s.resolveDiscount(ctx, req, booking)
	if err != nil {
		return nil, err
	}

	finalCents := cents
	var originalCents *int64
	if discount.Kind != model.DiscountKindNone {
		finalCents = validation.ApplyDiscount(cents, discount.Percentage)
		if finalCents < 1 {
			return nil, validation.ErrAmountNotPositive
		}
		originalCents = &cents
	}

	plan := repository.SettlementPlan{
		CustomerID:       req.CustomerID,
		InstrumentID:     req.InstrumentID,
		BillingAddressID: req.BillingAddressID,
		BookingID:        req.BookingID,
		OrderID:          req.OrderID,
		AmountCents:      finalCents,
		OriginalCents:    originalCents,
		RewardID:         discount.RewardID,
		PromotionID:      discount.PromotionID,
	}

	paymentID, err := s.repo.CommitSettlement(ctx, plan)
	if err != nil {
		if req.BookingID != nil {
			s.releaseBooking(*req.BookingID, req.CustomerID)
		}
		return nil, err
	}

	s.notifySettled(ctx, req.CustomerID, booking, discount)

	return &model.SettlementResult{
		PaymentID:     paymentID,
		AmountCents:   finalCents,
		OriginalCents: originalCents,
		DiscountKind:  discount.Kind,
	}, nil
}

// releaseBooking освобождает слот предварительной записи после неудачного
// расчёта. Компенсация принципиально асимметрична основному пути: её
// собственная ошибка только логируется и никому не возвращается, чтобы слот
// не остался занят навсегда, а неудача очистки не маскировала исходную ошибку.
func (s *Service) releaseBooking(bookingID, customerID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	released, err := s.repo.ReleaseBooking(ctx, bookingID, customerID)
	if err != nil {
		s.logger.Warn("release booking failed",
			zap.Error(err), zap.Int64("bookingID", bookingID), zap.Int64("customerID", customerID))
		return
	}
	if released {
		s.logger.Info("pending booking released", zap.Int64("bookingID", bookingID))
	}
}

func (s *Service) notifySettled(ctx context.Context, customerID int64, booking *model.Booking, discount *model.Discount) {
	switch discount.Kind {
	case model.DiscountKindLoyalty:
		s.send(ctx, model.Notification{
			RecipientID:   customerID,
			RecipientRole: model.RecipientCustomer,
			Category:      model.NotificationCategoryLoyalty,
			Message:       "Your loyalty reward has been redeemed",
		})
	case model.DiscountKindPromo:
		s.send(ctx, model.Notification{
			RecipientID:   customerID,
			RecipientRole: model.RecipientCustomer,
			Category:      model.NotificationCategoryPayment,
			Message:       "Your promotion code has been redeemed",
		})
	}

	if booking == nil {
		return
	}

	s.send(ctx, model.Notification{
		RecipientID:   customerID,
		RecipientRole: model.RecipientCustomer,
		Category:      model.NotificationCategoryBooking,
		Message:       fmt.Sprintf("Your booking for %s is confirmed", booking.StartsAt.Format(time.RFC3339)),
	})

	staff, err := s.repo.GetBookingStaff(ctx, booking.ID)
	if err != nil {
		s.logger.Warn("get booking staff failed", zap.Error(err), zap.Int64("bookingID", booking.ID))
		return
	}

	for _, staffID := range staff {
		s.send(ctx, model.Notification{
			RecipientID:   staffID,
			RecipientRole: model.RecipientStaff,
			Category:      model.NotificationCategoryBooking,
			Message:       fmt.Sprintf("Booking %d is confirmed", booking.ID),
		})
	}
}

func (s *Service) send(ctx context.Context, n model.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn("send notification failed",
			zap.Error(err), zap.Int64("recipientID", n.RecipientID), zap.String("category", n.Category))
	}
}

// ListRewards возвращает активные награды клиента.
func (s *Service) ListRewards(ctx context.Context, customerID int64) ([]model.Reward, error) {
	return s.repo.ListRewardsByCustomer(ctx, customerID)
}

// ListPromotions возвращает выданные промокоды клиента.
func (s *Service) ListPromotions(ctx context.Context, customerID int64) ([]model.Promotion, error) {
	return s.repo.ListPromotionsByCustomer(ctx, customerID)
}

// IssuePromotion выдаёт клиенту промокод от имени салона.
func (s *Service) IssuePromotion(ctx context.Context, issue model.PromotionIssue) (int64, error) {
	if !validation.IsValidPromoCode(issue.Code) {
		return 0, fmt.Errorf("%w: bad code", ErrPromotionData)
	}
	if issue.DiscountPercentage < 1 || issue.DiscountPercentage > 100 {
		return 0, fmt.Errorf("%w: discount percentage out of range", ErrPromotionData)
	}
	if issue.ExpiresAt != nil && issue.ExpiresAt.Before(s.now()) {
		return 0, fmt.Errorf("%w: expiry in the past", ErrPromotionData)
	}
	return s.repo.CreatePromotion(ctx, issue)
}
