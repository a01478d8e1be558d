package analytics

import (
	"time"

	"github.com/tripwell/notify/internal/domain"
)

// Engagement score blend weights. Rates enter as fractions in [0,1] and
// the score lands in [0,100].
const (
	weightDelivery   = 0.2
	weightOpen       = 0.3
	weightClick      = 0.3
	weightConversion = 0.2
)

// Calculator turns lifecycle records into rate metrics. Pure computation.
type Calculator struct{}

// NewCalculator creates a metrics calculator.
func NewCalculator() *Calculator { return &Calculator{} }

// Compute aggregates a record set into engagement metrics. Every rate is
// 0 when its denominator is 0; nothing here divides by zero or yields NaN.
func (c *Calculator) Compute(records []domain.NotificationAnalytics, now time.Time) domain.EngagementMetrics {
	m := domain.EngagementMetrics{ComputedAt: now}

	for i := range records {
		rec := &records[i]
		if rec.SentAt != nil {
			m.SentCount++
		}
		if rec.DeliveredAt != nil {
			m.DeliveredCount++
		}
		if rec.OpenedAt != nil {
			m.OpenedCount++
		}
		if rec.ClickedAt != nil {
			m.ClickedCount++
		}
		if rec.ConvertedAt != nil {
			m.ConvertedCount++
		}
	}

	m.DeliveryRate = rate(m.DeliveredCount, m.SentCount)
	m.OpenRate = rate(m.OpenedCount, m.DeliveredCount)
	m.ClickRate = rate(m.ClickedCount, m.OpenedCount)
	m.ConversionRate = rate(m.ConvertedCount, m.ClickedCount)
	m.EngagementScore = engagementScore(m)
	return m
}

// rate returns num/denom as a fraction, 0 when denom is 0.
func rate(num, denom int) float64 {
	if denom == 0 {
		return 0.0
	}
	return domain.Clamp01(float64(num) / float64(denom))
}

// engagementScore blends the four rates into a 0-100 score.
func engagementScore(m domain.EngagementMetrics) float64 {
	score := 100 * (weightDelivery*m.DeliveryRate +
		weightOpen*m.OpenRate +
		weightClick*m.ClickRate +
		weightConversion*m.ConversionRate)
	if score > 100 {
		score = 100
	}
	return score
}
