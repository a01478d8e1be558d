package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwell/notify/internal/domain"
)

type memArchive struct {
	saved []*domain.PerformanceReport
}

func (a *memArchive) SaveReport(_ context.Context, report *domain.PerformanceReport) error {
	a.saved = append(a.saved, report)
	return nil
}

func reportRecord(id string, ch domain.DeliveryChannel, typ domain.NotificationType, delivered, opened, converted bool) domain.NotificationAnalytics {
	base := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	rec := domain.NotificationAnalytics{
		NotificationID: id,
		UserID:         "u-test",
		Type:           typ,
		Channel:        ch,
		Status:         domain.StatusSent,
		SentAt:         tp(base),
	}
	if delivered {
		rec.DeliveredAt = tp(base.Add(time.Minute))
	}
	if opened {
		rec.OpenedAt = tp(base.Add(5 * time.Minute))
		rec.ClickedAt = tp(base.Add(6 * time.Minute))
	}
	if converted {
		rec.ConvertedAt = tp(base.Add(20 * time.Minute))
	}
	return rec
}

func TestGenerate_BuildsBreakdownsAndArchives(t *testing.T) {
	store := newMemStore()
	archive := &memArchive{}
	reporter := NewReporter(store, NewCalculator(), archive)

	records := []domain.NotificationAnalytics{
		reportRecord("n-1", domain.ChannelEmail, domain.TypePriceDropAlert, true, true, true),
		reportRecord("n-2", domain.ChannelEmail, domain.TypePromotional, true, true, false),
		reportRecord("n-3", domain.ChannelSMS, domain.TypePromotional, false, false, false),
	}
	for i := range records {
		require.NoError(t, store.Create(context.Background(), &records[i]))
	}

	from := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	report, err := reporter.Generate(context.Background(), from, to, "")
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 3, report.Overall.SentCount)
	assert.Len(t, report.ByChannel, 2)
	assert.Len(t, report.ByType, 2)
	assert.Equal(t, 2, report.ByChannel[domain.ChannelEmail].SentCount)
	assert.Equal(t, 1, report.ByChannel[domain.ChannelSMS].SentCount)

	require.Len(t, archive.saved, 1)
	assert.Equal(t, report.ID, archive.saved[0].ID)
}

func TestGenerate_InsightRules(t *testing.T) {
	store := newMemStore()
	reporter := NewReporter(store, NewCalculator(), nil)

	// Email performs, SMS does not: low delivery, low opens.
	records := []domain.NotificationAnalytics{
		reportRecord("n-1", domain.ChannelEmail, domain.TypePriceDropAlert, true, true, true),
		reportRecord("n-2", domain.ChannelSMS, domain.TypePromotional, false, false, false),
		reportRecord("n-3", domain.ChannelSMS, domain.TypePromotional, true, false, false),
		reportRecord("n-4", domain.ChannelSMS, domain.TypePromotional, true, false, false),
	}
	for i := range records {
		require.NoError(t, store.Create(context.Background(), &records[i]))
	}

	report, err := reporter.Generate(context.Background(), time.Time{}.Add(time.Second), time.Now().Add(time.Hour), "")
	require.NoError(t, err)

	joined := ""
	for _, insight := range report.Insights {
		joined += insight + "\n"
	}
	assert.Contains(t, joined, "Delivery rate")
	assert.Contains(t, joined, "Best performing channel: email")
	assert.Contains(t, joined, "Worst performing channel: sms")
	assert.Contains(t, joined, "Highest converting notification type: price_drop_alert")
}

func TestGenerate_TimeSeriesGrouping(t *testing.T) {
	store := newMemStore()
	reporter := NewReporter(store, NewCalculator(), nil)

	early := reportRecord("n-1", domain.ChannelEmail, domain.TypePromotional, true, false, false)
	late := reportRecord("n-2", domain.ChannelEmail, domain.TypePromotional, true, true, false)
	lateAt := late.SentAt.Add(3 * time.Hour)
	late.SentAt = &lateAt
	require.NoError(t, store.Create(context.Background(), &early))
	require.NoError(t, store.Create(context.Background(), &late))

	report, err := reporter.Generate(context.Background(), time.Time{}.Add(time.Second), time.Now().Add(time.Hour), "hour")
	require.NoError(t, err)

	assert.Len(t, report.TimeSeries, 2)
	assert.Equal(t, 1, report.TimeSeries["2025-06-11T14"].SentCount)
	assert.Equal(t, 1, report.TimeSeries["2025-06-11T17"].SentCount)
}

func TestGenerate_RejectsUnknownGroupBy(t *testing.T) {
	reporter := NewReporter(newMemStore(), NewCalculator(), nil)

	_, err := reporter.Generate(context.Background(), time.Time{}, time.Now(), "fortnight")
	assert.ErrorContains(t, err, "unsupported group_by")
}
