package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccrualOutcome(t *testing.T) {
	tests := []struct {
		name         string
		visits       int64
		targetVisits int64
		wantVisits   int64
		wantMint     bool
	}{
		{name: "below threshold", visits: 4, targetVisits: 5, wantVisits: 4, wantMint: false},
		{name: "exact hit resets to zero", visits: 5, targetVisits: 5, wantVisits: 0, wantMint: true},
		{name: "overflow keeps remainder", visits: 7, targetVisits: 5, wantVisits: 2, wantMint: true},
		{name: "first visit of single-visit program", visits: 1, targetVisits: 1, wantVisits: 0, wantMint: true},
		{name: "zero target never mints", visits: 100, targetVisits: 0, wantVisits: 100, wantMint: false},
		{name: "negative target never mints", visits: 100, targetVisits: -1, wantVisits: 100, wantMint: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotVisits, gotMint := AccrualOutcome(tt.visits, tt.targetVisits)
			assert.Equal(t, tt.wantVisits, gotVisits)
			assert.Equal(t, tt.wantMint, gotMint)
		})
	}
}

func TestAccrualOutcome_LastVisitBeforeThreshold(t *testing.T) {
	// Членство на пороге минус один: следующий визит чеканит ровно одну награду.
	visits := int64(4)
	visits++

	got, mint := AccrualOutcome(visits, 5)
	assert.True(t, mint)
	assert.Equal(t, int64(0), got)

	// Повторный вызов с тем же счётчиком награду уже не чеканит.
	got, mint = AccrualOutcome(got+1, 5)
	assert.False(t, mint)
	assert.Equal(t, int64(1), got)
}
