// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"math"
	"unicode"
)

// ErrAmountNotPositive возвращается, если сумма после округления меньше одной копейки.
var ErrAmountNotPositive = errors.New("amount must be at least 0.01")

// AmountToCents переводит сумму в копейки с округлением до двух знаков.
func AmountToCents(amount float64) (int64, error) {
	cents := int64(math.Round(amount * 100))
	if cents < 1 {
		return 0, ErrAmountNotPositive
	}
	return cents, nil
}

// ApplyDiscount возвращает сумму в копейках после применения процентной скидки,
// округлённую до целой копейки.
func ApplyDiscount(cents, percentage int64) int64 {
	return int64(math.Round(float64(cents) * float64(100-percentage) / 100))
}

// IsValidPromoCode проверяет формат промокода: непустая строка из букв,
// цифр и дефисов длиной до 64 символов.
func IsValidPromoCode(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	for _, ch := range code {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' {
			return false
		}
	}
	return true
}
