package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    BookingStatus
		event   BookingEvent
		want    BookingStatus
		wantErr bool
	}{
		{name: "pending settles", from: BookingStatusPending, event: BookingEventSettle, want: BookingStatusScheduled},
		{name: "pending cancels", from: BookingStatusPending, event: BookingEventCancel, want: BookingStatusCanceled},
		{name: "scheduled completes", from: BookingStatusScheduled, event: BookingEventComplete, want: BookingStatusCompleted},
		{name: "scheduled cancels", from: BookingStatusScheduled, event: BookingEventCancel, want: BookingStatusCanceled},
		{name: "pending cannot complete", from: BookingStatusPending, event: BookingEventComplete, wantErr: true},
		{name: "scheduled cannot settle again", from: BookingStatusScheduled, event: BookingEventSettle, wantErr: true},
		{name: "completed is terminal", from: BookingStatusCompleted, event: BookingEventCancel, wantErr: true},
		{name: "canceled is terminal", from: BookingStatusCanceled, event: BookingEventSettle, wantErr: true},
		{name: "unknown status rejected", from: BookingStatus("GHOST"), event: BookingEventSettle, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Transition(tt.event)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoyaltyTransitions(t *testing.T) {
	got, err := LoyaltyStateUnprocessed.Transition(LoyaltyEventAccrue)
	require.NoError(t, err)
	assert.Equal(t, LoyaltyStateProcessed, got)

	got, err = LoyaltyStateUnprocessed.Transition(LoyaltyEventSkipCanceled)
	require.NoError(t, err)
	assert.Equal(t, LoyaltyStateCanceledProcessed, got)

	_, err = LoyaltyStateProcessed.Transition(LoyaltyEventAccrue)
	require.Error(t, err)

	_, err = LoyaltyStateCanceledProcessed.Transition(LoyaltyEventSkipCanceled)
	require.Error(t, err)
}

func TestPromotionTransitions(t *testing.T) {
	got, err := PromotionStatusIssued.Transition(PromotionEventRedeem)
	require.NoError(t, err)
	assert.Equal(t, PromotionStatusRedeemed, got)

	got, err = PromotionStatusIssued.Transition(PromotionEventExpire)
	require.NoError(t, err)
	assert.Equal(t, PromotionStatusExpired, got)

	_, err = PromotionStatusRedeemed.Transition(PromotionEventRedeem)
	require.Error(t, err)

	_, err = PromotionStatusExpired.Transition(PromotionEventRedeem)
	require.Error(t, err)
}
