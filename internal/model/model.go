// Package model содержит доменные сущности сервиса расчётов салона.
package model

import "time"

// Booking представляет запись на услугу: сначала предварительную, затем подтверждённую.
type Booking struct {
	ID           int64
	CustomerID   int64
	MerchantID   int64
	StartsAt     time.Time
	EndsAt       time.Time
	Status       BookingStatus
	LoyaltyState LoyaltyState
	CreatedAt    time.Time
}

// Payment описывает неизменяемую запись об успешном платеже.
// Наличие строки платежа и есть признак успеха: отдельных статусов
// pending/failed в модели нет.
type Payment struct {
	ID               int64
	CustomerID       int64
	InstrumentID     int64
	BillingAddressID int64
	BookingID        *int64
	OrderID          *int64
	AmountCents      int64
	OriginalCents    *int64
	RewardID         *int64
	PromotionID      *int64
	CreatedAt        time.Time
}

// LoyaltyMembership хранит счётчик визитов пары (клиент, салон).
type LoyaltyMembership struct {
	ID          int64
	CustomerID  int64
	MerchantID  int64
	VisitsCount int64
}

// LoyaltyProgram описывает настройки программы лояльности салона.
type LoyaltyProgram struct {
	MerchantID         int64
	TargetVisits       int64
	DiscountPercentage int64
	Active             bool
	Note               string
}

// Reward представляет накопленную скидку лояльности. Используется ровно один раз.
type Reward struct {
	ID                 int64
	CustomerID         int64
	MerchantID         int64
	DiscountPercentage int64
	Note               string
	Active             bool
	RedeemedAt         *time.Time
	CreatedAt          time.Time
}

// Promotion представляет промокод, выданный салоном конкретному клиенту.
type Promotion struct {
	ID                 int64
	MerchantID         int64
	CustomerID         int64
	Code               string
	DiscountPercentage int64
	Status             PromotionStatus
	ExpiresAt          *time.Time
	CreatedAt          time.Time
}

// DiscountKind описывает источник применённой скидки.
type DiscountKind string

const (
	DiscountKindNone    DiscountKind = ""
	DiscountKindLoyalty DiscountKind = "loyalty"
	DiscountKindPromo   DiscountKind = "promo"
)

// Discount описывает скидку, выбранную для конкретного платежа.
type Discount struct {
	Kind        DiscountKind
	Percentage  int64
	RewardID    *int64
	PromotionID *int64
}

// SettlementRequest содержит входные данные операции расчёта.
type SettlementRequest struct {
	CustomerID       int64
	InstrumentID     int64
	BillingAddressID int64
	Amount           float64
	BookingID        *int64
	OrderID          *int64
	RewardID         *int64
	PromoCode        string
}

// SettlementResult содержит результат успешного расчёта.
type SettlementResult struct {
	PaymentID     int64
	AmountCents   int64
	OriginalCents *int64
	DiscountKind  DiscountKind
}

// AccrualCandidate описывает завершённый визит, ожидающий учёта лояльности.
type AccrualCandidate struct {
	BookingID  int64
	CustomerID int64
	MerchantID int64
}

// PromotionIssue содержит данные для выдачи промокода клиенту.
type PromotionIssue struct {
	MerchantID         int64
	CustomerID         int64
	Code               string
	DiscountPercentage int64
	ExpiresAt          *time.Time
}

// Notification описывает запрос на отправку уведомления внешней системе доставки.
type Notification struct {
	RecipientID   int64  `json:"recipient_id"`
	RecipientRole string `json:"recipient_role"`
	Category      string `json:"category"`
	Message       string `json:"message"`
}

// Роли получателей и категории уведомлений.
const (
	RecipientCustomer = "customer"
	RecipientStaff    = "staff"

	NotificationCategoryPayment = "payment"
	NotificationCategoryLoyalty = "loyalty"
	NotificationCategoryBooking = "booking"
)
