package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tripwell/notify/internal/domain"
)

// Insight thresholds.
const (
	minHealthyDeliveryRate = 0.95
	minHealthyOpenRate     = 0.20
)

// Archiver persists generated report snapshots. Reports are immutable;
// the archiver only ever writes new objects.
type Archiver interface {
	SaveReport(ctx context.Context, report *domain.PerformanceReport) error
}

// Reporter assembles performance report snapshots from lifecycle records.
type Reporter struct {
	store   Store
	calc    *Calculator
	archive Archiver // optional
}

// NewReporter creates a report generator. archive may be nil to skip
// snapshot archival.
func NewReporter(store Store, calc *Calculator, archive Archiver) *Reporter {
	return &Reporter{store: store, calc: calc, archive: archive}
}

// Generate builds an immutable report for [from, to]. groupBy is "" for
// no time series, or "hour"/"day" for bucketed metrics.
func (r *Reporter) Generate(ctx context.Context, from, to time.Time, groupBy string) (*domain.PerformanceReport, error) {
	records, err := r.store.Query(ctx, domain.AnalyticsFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("load records for report: %w", err)
	}

	now := time.Now().UTC()
	report := &domain.PerformanceReport{
		ID:          uuid.New().String(),
		From:        from,
		To:          to,
		Overall:     r.calc.Compute(records, now),
		ByChannel:   make(map[domain.DeliveryChannel]domain.EngagementMetrics),
		ByType:      make(map[domain.NotificationType]domain.EngagementMetrics),
		GeneratedAt: now,
	}

	byChannel := make(map[domain.DeliveryChannel][]domain.NotificationAnalytics)
	byType := make(map[domain.NotificationType][]domain.NotificationAnalytics)
	for _, rec := range records {
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
		byType[rec.Type] = append(byType[rec.Type], rec)
	}
	for ch, recs := range byChannel {
		report.ByChannel[ch] = r.calc.Compute(recs, now)
	}
	for typ, recs := range byType {
		report.ByType[typ] = r.calc.Compute(recs, now)
	}

	if groupBy != "" {
		series, err := bucketize(records, groupBy, r.calc, now)
		if err != nil {
			return nil, err
		}
		report.TimeSeries = series
	}

	report.Insights = buildInsights(report)

	if r.archive != nil {
		if err := r.archive.SaveReport(ctx, report); err != nil {
			// Archival is best effort; the caller still gets the report.
			log.Printf("[Reporter] Report archival failed for %s: %v", report.ID, err)
		}
	}
	return report, nil
}

func bucketize(records []domain.NotificationAnalytics, groupBy string, calc *Calculator, now time.Time) (map[string]domain.EngagementMetrics, error) {
	var layout string
	switch groupBy {
	case "hour":
		layout = "2006-01-02T15"
	case "day":
		layout = "2006-01-02"
	default:
		return nil, fmt.Errorf("unsupported group_by %q (want hour or day)", groupBy)
	}

	buckets := make(map[string][]domain.NotificationAnalytics)
	for _, rec := range records {
		if rec.SentAt == nil {
			continue
		}
		buckets[rec.SentAt.UTC().Format(layout)] = append(buckets[rec.SentAt.UTC().Format(layout)], rec)
	}

	out := make(map[string]domain.EngagementMetrics, len(buckets))
	for label, recs := range buckets {
		out[label] = calc.Compute(recs, now)
	}
	return out, nil
}

// buildInsights applies the fixed rule set to a finished report.
func buildInsights(report *domain.PerformanceReport) []string {
	var insights []string

	if report.Overall.SentCount > 0 && report.Overall.DeliveryRate < minHealthyDeliveryRate {
		insights = append(insights, fmt.Sprintf(
			"Delivery rate %.1f%% is below the 95%% health threshold; review failing channels and provider status.",
			report.Overall.DeliveryRate*100))
	}
	if report.Overall.DeliveredCount > 0 && report.Overall.OpenRate < minHealthyOpenRate {
		insights = append(insights, fmt.Sprintf(
			"Open rate %.1f%% is below 20%%; consider send-time optimization and subject personalization.",
			report.Overall.OpenRate*100))
	}

	if best, worst, ok := bestAndWorstChannel(report.ByChannel); ok {
		insights = append(insights, fmt.Sprintf(
			"Best performing channel: %s (engagement score %.1f).", best, report.ByChannel[best].EngagementScore))
		if worst != best {
			insights = append(insights, fmt.Sprintf(
				"Worst performing channel: %s (engagement score %.1f).", worst, report.ByChannel[worst].EngagementScore))
		}
	}

	if top, ok := topConvertingType(report.ByType); ok {
		insights = append(insights, fmt.Sprintf(
			"Highest converting notification type: %s (%.1f%% conversion).", top, report.ByType[top].ConversionRate*100))
	}

	return insights
}

func bestAndWorstChannel(byChannel map[domain.DeliveryChannel]domain.EngagementMetrics) (best, worst domain.DeliveryChannel, ok bool) {
	if len(byChannel) == 0 {
		return "", "", false
	}

	channels := make([]domain.DeliveryChannel, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	// Stable tie-breaking regardless of map order.
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	best, worst = channels[0], channels[0]
	for _, ch := range channels[1:] {
		if byChannel[ch].EngagementScore > byChannel[best].EngagementScore {
			best = ch
		}
		if byChannel[ch].EngagementScore < byChannel[worst].EngagementScore {
			worst = ch
		}
	}
	return best, worst, true
}

func topConvertingType(byType map[domain.NotificationType]domain.EngagementMetrics) (domain.NotificationType, bool) {
	if len(byType) == 0 {
		return "", false
	}

	types := make([]domain.NotificationType, 0, len(byType))
	for typ := range byType {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	top := types[0]
	for _, typ := range types[1:] {
		if byType[typ].ConversionRate > byType[top].ConversionRate {
			top = typ
		}
	}
	if byType[top].ConvertedCount == 0 {
		return "", false
	}
	return top, true
}
