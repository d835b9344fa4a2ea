package services

import (
	"testing"

	"predictpix/internal/models"
)

func BenchmarkRewardAmount(b *testing.B) {
	for i := 0; i < b.N; i++ {
		rewardAmount(140, 1_000_000_000, 700_000_000, 300)
	}
}

func BenchmarkFeeAmount(b *testing.B) {
	for i := 0; i < b.N; i++ {
		feeAmount(1_000_000_000, 250)
	}
}

func BenchmarkCalculateOdds(b *testing.B) {
	svc := &SettlementService{}
	market := &models.Market{
		YesPool:   700_000_000,
		NoPool:    300_000_000,
		TotalPool: 1_000_000_000,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.CalculateOdds(market)
	}
}
