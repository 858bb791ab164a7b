// Package loyalty реализует фоновый учёт завершённых визитов и чеканку наград.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
)

const sweepBatchSize = 100

// Repository описывает контракт доступа к данным, используемый процессом учёта.
type Repository interface {
	GetBookingsForAccrual(ctx context.Context, limit int) ([]model.AccrualCandidate, error)
	AccrueVisit(ctx context.Context, c model.AccrualCandidate) (*model.Reward, error)
	MarkCanceledProcessed(ctx context.Context) (int64, error)
}

// Notifier описывает контракт внешней системы доставки уведомлений.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}

// Sweeper периодически превращает завершённые визиты в прогресс лояльности
// и новые награды.
type Sweeper struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper создаёт процесс учёта с указанным интервалом запуска.
func NewSweeper(repo Repository, notifier Notifier, logger *zap.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		interval: interval,
	}
}

// SweepResult содержит итог одного прохода учёта.
type SweepResult struct {
	Processed int
	Minted    int
	Skipped   int
	Failed    int
	Canceled  int64
}

// Run запускает периодические проходы учёта до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.Sweep(ctx)
			if res.Processed > 0 || res.Failed > 0 || res.Canceled > 0 {
				s.logger.Info("loyalty sweep finished",
					zap.Int("processed", res.Processed),
					zap.Int("minted", res.Minted),
					zap.Int("skipped", res.Skipped),
					zap.Int("failed", res.Failed),
					zap.Int64("canceled", res.Canceled),
				)
			}
		}
	}
}

// Sweep выполняет один полный проход: учитывает завершённые визиты и помечает
// отменённые записи. Ошибка обработки одного визита не прерывает проход.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	candidates, err := s.repo.GetBookingsForAccrual(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("select bookings for accrual failed", zap.Error(err))
	}

	for _, c := range candidates {
		minted, err := s.ProcessOne(ctx, c)
		switch {
		case errors.Is(err, repository.ErrVisitAlreadyProcessed):
			res.Skipped++
		case err != nil:
			res.Failed++
			s.logger.Error("accrue visit failed", zap.Error(err), zap.Int64("bookingID", c.BookingID))
		default:
			res.Processed++
			if minted != nil {
				res.Minted++
			}
		}
	}

	canceled, err := s.repo.MarkCanceledProcessed(ctx)
	if err != nil {
		s.logger.Error("mark canceled bookings failed", zap.Error(err))
	}
	res.Canceled = canceled

	return res
}

// ProcessOne учитывает один завершённый визит и отправляет уведомление о
// новой награде, если она была отчеканена. Вынесен отдельно, чтобы логика
// обработки визита тестировалась независимо от таймера.
func (s *Sweeper) ProcessOne(ctx context.Context, c model.AccrualCandidate) (*model.Reward, error) {
	minted, err := s.repo.AccrueVisit(ctx, c)
	if err != nil {
		return nil, err
	}

	if minted != nil && s.notifier != nil {
		n := model.Notification{
			RecipientID:   minted.CustomerID,
			RecipientRole: model.RecipientCustomer,
			Category:      model.NotificationCategoryLoyalty,
			Message:       fmt.Sprintf("You earned a %d%% loyalty reward", minted.DiscountPercentage),
		}
		if err := s.notifier.Send(ctx, n); err != nil {
			s.logger.Warn("send reward notification failed",
				zap.Error(err), zap.Int64("customerID", minted.CustomerID))
		}
	}

	return minted, nil
}
