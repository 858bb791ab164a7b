package model

import "fmt"

// BookingStatus описывает статус записи на услугу.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusScheduled BookingStatus = "SCHEDULED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCanceled  BookingStatus = "CANCELED"
)

// BookingEvent описывает событие, переводящее запись в новый статус.
type BookingEvent string

const (
	// BookingEventSettle подтверждает запись после успешного платежа.
	BookingEventSettle BookingEvent = "SETTLE"
	// BookingEventComplete отмечает состоявшийся визит.
	BookingEventComplete BookingEvent = "COMPLETE"
	// BookingEventCancel отменяет запись.
	BookingEventCancel BookingEvent = "CANCEL"
)

// Transition возвращает статус записи после события или ошибку,
// если переход не предусмотрен таблицей переходов.
func (s BookingStatus) Transition(e BookingEvent) (BookingStatus, error) {
	switch s {
	case BookingStatusPending:
		switch e {
		case BookingEventSettle:
			return BookingStatusScheduled, nil
		case BookingEventCancel:
			return BookingStatusCanceled, nil
		}
	case BookingStatusScheduled:
		switch e {
		case BookingEventComplete:
			return BookingStatusCompleted, nil
		case BookingEventCancel:
			return BookingStatusCanceled, nil
		}
	case BookingStatusCompleted, BookingStatusCanceled:
		// Терминальные статусы.
	default:
		return s, fmt.Errorf("unknown booking status %q", s)
	}
	return s, fmt.Errorf("booking status %s does not accept event %s", s, e)
}

// LoyaltyState описывает признак обработки записи процессом лояльности.
type LoyaltyState string

const (
	LoyaltyStateUnprocessed       LoyaltyState = "UNPROCESSED"
	LoyaltyStateProcessed         LoyaltyState = "PROCESSED"
	LoyaltyStateCanceledProcessed LoyaltyState = "CANCELED_PROCESSED"
)

// LoyaltyEvent описывает событие обработки визита процессом лояльности.
type LoyaltyEvent string

const (
	// LoyaltyEventAccrue учитывает завершённый визит.
	LoyaltyEventAccrue LoyaltyEvent = "ACCRUE"
	// LoyaltyEventSkipCanceled помечает отменённый визит, чтобы он не учитывался повторно.
	LoyaltyEventSkipCanceled LoyaltyEvent = "SKIP_CANCELED"
)

// Transition возвращает состояние обработки лояльности после события.
func (s LoyaltyState) Transition(e LoyaltyEvent) (LoyaltyState, error) {
	if s != LoyaltyStateUnprocessed {
		return s, fmt.Errorf("loyalty state %s does not accept event %s", s, e)
	}
	switch e {
	case LoyaltyEventAccrue:
		return LoyaltyStateProcessed, nil
	case LoyaltyEventSkipCanceled:
		return LoyaltyStateCanceledProcessed, nil
	}
	return s, fmt.Errorf("unknown loyalty event %q", e)
}

// PromotionStatus описывает статус промокода.
type PromotionStatus string

const (
	PromotionStatusIssued   PromotionStatus = "ISSUED"
	PromotionStatusRedeemed PromotionStatus = "REDEEMED"
	PromotionStatusExpired  PromotionStatus = "EXPIRED"
)

// PromotionEvent описывает событие жизненного цикла промокода.
type PromotionEvent string

const (
	// PromotionEventRedeem использует промокод при расчёте.
	PromotionEventRedeem PromotionEvent = "REDEEM"
	// PromotionEventExpire помечает промокод просроченным.
	PromotionEventExpire PromotionEvent = "EXPIRE"
)

// Transition возвращает статус промокода после события.
// Использовать и просрочить можно только выданный промокод.
func (s PromotionStatus) Transition(e PromotionEvent) (PromotionStatus, error) {
	if s != PromotionStatusIssued {
		return s, fmt.Errorf("promotion status %s does not accept event %s", s, e)
	}
	switch e {
	case PromotionEventRedeem:
		return PromotionStatusRedeemed, nil
	case PromotionEventExpire:
		return PromotionStatusExpired, nil
	}
	return s, fmt.Errorf("unknown promotion event %q", e)
}
