package loyalty

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/strands/settlement-system/internal/model"
	"github.com/strands/settlement-system/internal/repository"
)

type stubRepo struct {
	candidates    []model.AccrualCandidate
	candidatesErr error

	accrued    map[int64]*model.Reward
	accrualErr map[int64]error

	canceled    int64
	canceledErr error
}

func (s *stubRepo) GetBookingsForAccrual(ctx context.Context, limit int) ([]model.AccrualCandidate, error) {
	return s.candidates, s.candidatesErr
}

func (s *stubRepo) AccrueVisit(ctx context.Context, c model.AccrualCandidate) (*model.Reward, error) {
	if err, ok := s.accrualErr[c.BookingID]; ok {
		return nil, err
	}
	return s.accrued[c.BookingID], nil
}

func (s *stubRepo) MarkCanceledProcessed(ctx context.Context) (int64, error) {
	return s.canceled, s.canceledErr
}

type stubNotifier struct {
	sent    []model.Notification
	sendErr error
}

func (n *stubNotifier) Send(ctx context.Context, notif model.Notification) error {
	n.sent = append(n.sent, notif)
	return n.sendErr
}

func TestSweep_PerItemFailureDoesNotAbort(t *testing.T) {
	repo := &stubRepo{
		candidates: []model.AccrualCandidate{
			{BookingID: 1, CustomerID: 10, MerchantID: 3},
			{BookingID: 2, CustomerID: 11, MerchantID: 3},
			{BookingID: 3, CustomerID: 12, MerchantID: 3},
		},
		accrualErr: map[int64]error{2: errors.New("tx failed")},
		accrued: map[int64]*model.Reward{
			3: {ID: 5, CustomerID: 12, MerchantID: 3, DiscountPercentage: 15, Active: true},
		},
		canceled: 4,
	}

	sw := NewSweeper(repo, nil, zap.NewNop(), time.Minute)
	res := sw.Sweep(context.Background())

	if res.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", res.Processed)
	}
	if res.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", res.Failed)
	}
	if res.Minted != 1 {
		t.Fatalf("Minted = %d, want 1", res.Minted)
	}
	if res.Canceled != 4 {
		t.Fatalf("Canceled = %d, want 4", res.Canceled)
	}
}

func TestSweep_SkipsAlreadyProcessed(t *testing.T) {
	repo := &stubRepo{
		candidates: []model.AccrualCandidate{
			{BookingID: 1, CustomerID: 10, MerchantID: 3},
		},
		accrualErr: map[int64]error{1: repository.ErrVisitAlreadyProcessed},
	}

	sw := NewSweeper(repo, nil, zap.NewNop(), time.Minute)
	res := sw.Sweep(context.Background())

	if res.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", res.Skipped)
	}
	if res.Processed != 0 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcessOne_SendsRewardNotification(t *testing.T) {
	repo := &stubRepo{
		accrued: map[int64]*model.Reward{
			1: {ID: 5, CustomerID: 10, MerchantID: 3, DiscountPercentage: 15, Active: true},
		},
	}
	notifier := &stubNotifier{}

	sw := NewSweeper(repo, notifier, zap.NewNop(), time.Minute)

	minted, err := sw.ProcessOne(context.Background(), model.AccrualCandidate{BookingID: 1, CustomerID: 10, MerchantID: 3})
	if err != nil {
		t.Fatalf("ProcessOne error: %v", err)
	}
	if minted == nil || minted.ID != 5 {
		t.Fatalf("minted = %+v, want reward 5", minted)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(notifier.sent))
	}
	if notifier.sent[0].Category != model.NotificationCategoryLoyalty {
		t.Fatalf("category = %q, want loyalty", notifier.sent[0].Category)
	}
}

func TestProcessOne_NotificationFailureIsNotFatal(t *testing.T) {
	repo := &stubRepo{
		accrued: map[int64]*model.Reward{
			1: {ID: 5, CustomerID: 10, MerchantID: 3, DiscountPercentage: 15, Active: true},
		},
	}
	notifier := &stubNotifier{sendErr: errors.New("delivery unavailable")}

	sw := NewSweeper(repo, notifier, zap.NewNop(), time.Minute)

	minted, err := sw.ProcessOne(context.Background(), model.AccrualCandidate{BookingID: 1, CustomerID: 10, MerchantID: 3})
	if err != nil {
		t.Fatalf("ProcessOne error: %v", err)
	}
	if minted == nil {
		t.Fatalf("reward must still be reported when notification fails")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := &stubRepo{}
	sw := NewSweeper(repo, nil, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("Run did not stop after context cancellation")
	}
}
