package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwell/notify/internal/domain"
)

func setupStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_CreateUpserts(t *testing.T) {
	store, mock := setupStore(t)
	sentAt := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO notification_analytics").
		WithArgs("n-1", "u-test", domain.TypeTravelReminder, domain.ChannelEmail,
			domain.StatusSent, &sentAt, nil, nil, "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), &domain.NotificationAnalytics{
		NotificationID: "n-1",
		UserID:         "u-test",
		Type:           domain.TypeTravelReminder,
		Channel:        domain.ChannelEmail,
		Status:         domain.StatusSent,
		SentAt:         &sentAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateByIDGuardsTimestamps(t *testing.T) {
	store, mock := setupStore(t)
	at := time.Date(2025, 6, 11, 14, 30, 0, 0, time.UTC)

	// GREATEST keeps the stored value when the incoming time is older.
	mock.ExpectExec(`UPDATE notification_analytics SET opened_at = GREATEST\(COALESCE\(opened_at, \$2\), \$2\)`).
		WithArgs("n-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateByID(context.Background(), "n-1", EventUpdate{Event: EventOpened, At: at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateByIDUnknownEvent(t *testing.T) {
	store, _ := setupStore(t)

	err := store.UpdateByID(context.Background(), "n-1", EventUpdate{Event: "exploded", At: time.Now()})
	assert.ErrorContains(t, err, "unknown lifecycle event")
}

func TestPostgresStore_UpdateByIDMissingRecord(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec("UPDATE notification_analytics").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateByID(context.Background(), "n-ghost", EventUpdate{Event: EventDelivered, At: time.Now()})
	assert.ErrorContains(t, err, "no analytics record")
}

func TestPostgresStore_QueryAppliesFilters(t *testing.T) {
	store, mock := setupStore(t)
	sentAt := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	from := sentAt.Add(-time.Hour)

	rows := sqlmock.NewRows([]string{
		"notification_id", "user_id", "type", "channel", "status",
		"sent_at", "delivered_at", "opened_at", "clicked_at", "converted_at",
		"failed_at", "unsubscribed_at", "event_details",
	}).AddRow("n-1", "u-test", "travel_reminder", "email", "sent",
		sentAt, nil, nil, nil, nil, nil, nil, `{"failed":{"error":"x"}}`)

	mock.ExpectQuery("SELECT (.+) FROM notification_analytics WHERE 1=1 AND user_id = \\$1 AND channel = \\$2 AND sent_at >= \\$3").
		WithArgs("u-test", domain.ChannelEmail, from).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), domain.AnalyticsFilter{
		UserID:  "u-test",
		Channel: domain.ChannelEmail,
		From:    from,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n-1", got[0].NotificationID)
	assert.Equal(t, domain.ChannelEmail, got[0].Channel)
	require.NotNil(t, got[0].SentAt)
	assert.True(t, got[0].SentAt.Equal(sentAt))
	assert.Nil(t, got[0].OpenedAt)
	assert.Equal(t, "x", got[0].EventDetails["failed"]["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
