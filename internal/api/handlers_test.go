package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwell/notify/internal/analytics"
	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/delivery"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/intelligence"
	"github.com/tripwell/notify/internal/scheduler"
)

type fakeTransport struct {
	ch domain.DeliveryChannel

	mu   sync.Mutex
	sent []string
}

func (t *fakeTransport) Channel() domain.DeliveryChannel { return t.ch }

func (t *fakeTransport) Send(_ context.Context, n *domain.Notification) *domain.DeliveryResult {
	t.mu.Lock()
	t.sent = append(t.sent, n.ID)
	t.mu.Unlock()
	return &domain.DeliveryResult{NotificationID: n.ID, Channel: t.ch, Status: domain.StatusSent}
}

func (t *fakeTransport) ValidateConfig() bool { return true }

type memDirectory struct {
	behaviors map[string]*domain.UserBehaviorData
}

func (d *memDirectory) Addresses(context.Context, string) (*directory.ChannelAddresses, error) {
	return &directory.ChannelAddresses{}, nil
}

func (d *memDirectory) Behavior(_ context.Context, userID string) (*domain.UserBehaviorData, error) {
	if b, ok := d.behaviors[userID]; ok {
		return b, nil
	}
	return &domain.UserBehaviorData{UserID: userID}, nil
}

func (d *memDirectory) SaveBehavior(_ context.Context, b *domain.UserBehaviorData) error {
	d.behaviors[b.UserID] = b
	return nil
}

type memStore struct {
	mu      sync.Mutex
	records []domain.NotificationAnalytics
}

func (s *memStore) Create(_ context.Context, rec *domain.NotificationAnalytics) error {
	s.mu.Lock()
	s.records = append(s.records, *rec)
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpdateByID(context.Context, string, analytics.EventUpdate) error { return nil }

func (s *memStore) Query(_ context.Context, filter domain.AnalyticsFilter) ([]domain.NotificationAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NotificationAnalytics
	for _, rec := range s.records {
		if filter.NotificationID != "" && rec.NotificationID != filter.NotificationID {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Channel != "" && rec.Channel != filter.Channel {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type memInbox struct {
	saved []domain.Notification
}

func (m *memInbox) Save(_ context.Context, n *domain.Notification) error {
	m.saved = append(m.saved, *n)
	return nil
}

func (m *memInbox) List(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for _, n := range m.saved {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

type memArchive struct {
	reports map[string]*domain.PerformanceReport
}

func (a *memArchive) SaveReport(_ context.Context, report *domain.PerformanceReport) error {
	a.reports[report.ID] = report
	return nil
}

func (a *memArchive) LoadReport(_ context.Context, id string) (*domain.PerformanceReport, error) {
	report, ok := a.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s not found", id)
	}
	return report, nil
}

func (a *memArchive) ListReports(context.Context) ([]string, error) {
	var ids []string
	for id := range a.reports {
		ids = append(ids, id)
	}
	return ids, nil
}

type apiFixture struct {
	router    http.Handler
	transport *fakeTransport
	sched     *scheduler.Scheduler
	store     *memStore
	inbox     *memInbox
	archive   *memArchive
	hub       *delivery.Hub
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	transport := &fakeTransport{ch: domain.ChannelEmail}
	manager := delivery.NewManager(transport)

	store := &memStore{}
	collector := analytics.NewCollector(store, nil)
	calc := analytics.NewCalculator()
	archive := &memArchive{reports: make(map[string]*domain.PerformanceReport)}
	reporter := analytics.NewReporter(store, calc, archive)

	sched := scheduler.New(rdb, manager, collector, appconfig.SchedulerConfig{
		PollIntervalSeconds: 1,
		QueueKey:            "notify:schedule:api-test",
	})

	icfg := appconfig.IntelligenceConfig{
		LearningRate:  0.01,
		MinExamples:   10,
		BufferSize:    100,
		WeightClip:    10.0,
		MinDataPoints: 5,
	}
	dir := &memDirectory{behaviors: make(map[string]*domain.UserBehaviorData)}
	predictor := intelligence.NewPredictor(icfg, intelligence.NewFeatureExtractor())
	timing := intelligence.NewTimingOptimizer(predictor, dir, icfg)

	hub := delivery.NewHub()
	inbox := &memInbox{}

	h := NewHandlers(
		manager,
		sched,
		intelligence.NewPersonalizer(),
		timing,
		dir,
		store,
		calc,
		reporter,
		collector,
		hub,
		inbox,
		archive,
	)

	return &apiFixture{
		router:    SetupRoutes(h),
		transport: transport,
		sched:     sched,
		store:     store,
		inbox:     inbox,
		archive:   archive,
		hub:       hub,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	channels := body["channels"].(map[string]interface{})
	assert.Equal(t, true, channels["email"])
}

func TestSubmitNotification_SchedulesForRecommendedTime(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodPost, "/api/notifications", map[string]interface{}{
		"user_id":  "u-1",
		"type":     "travel_reminder",
		"channels": []string{"email"},
		"content": map[string]string{
			"subject": "Your Kyoto trip starts tomorrow",
			"body":    "Pack tonight and check in online.",
		},
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["notification_id"])
	assert.NotEmpty(t, body["reasoning"])

	scheduledFor, err := time.Parse(time.RFC3339, body["scheduled_for"].(string))
	require.NoError(t, err)
	assert.False(t, scheduledFor.Before(time.Now().Add(-time.Minute)))

	pending, err := f.sched.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestSubmitNotification_ImmediateDeliversNow(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodPost, "/api/notifications", map[string]interface{}{
		"user_id":   "u-1",
		"type":      "booking_confirmation",
		"channels":  []string{"email"},
		"immediate": true,
		"content": map[string]string{
			"subject": "Booking confirmed",
			"body":    "See you in Lisbon.",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	id := body["notification_id"].(string)

	f.transport.mu.Lock()
	sent := append([]string(nil), f.transport.sent...)
	f.transport.mu.Unlock()
	assert.Equal(t, []string{id}, sent)

	records, err := f.store.Query(context.Background(), domain.AnalyticsFilter{NotificationID: id})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ChannelEmail, records[0].Channel)
}

func TestSubmitNotification_RejectsInvalidPayloads(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.router, http.MethodPost, "/api/notifications", map[string]interface{}{
		"user_id": "u-1",
		"type":    "travel_reminder",
		"content": map[string]string{"subject": "s", "body": "b"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing channels")

	rec = doJSON(t, f.router, http.MethodPost, "/api/notifications", map[string]interface{}{
		"user_id":  "u-1",
		"type":     "travel_reminder",
		"channels": []string{"email"},
		"send_at":  "tomorrow",
		"content":  map[string]string{"subject": "s", "body": "b"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "bad send_at")
}

func TestGetTimingRecommendation(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodGet, "/api/timing/recommendation?user_id=u-1&type=travel_reminder&channels=email,push", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	_, err := time.Parse(time.RFC3339, body["recommended_time"].(string))
	require.NoError(t, err)
	assert.NotEmpty(t, body["reasoning"])
}

func TestGetTimingRecommendation_Validation(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodGet, "/api/timing/recommendation?type=travel_reminder", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing user_id")

	rec = doJSON(t, f.router, http.MethodGet, "/api/timing/recommendation?user_id=u-1&type=carrier_pigeon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown type")

	rec = doJSON(t, f.router, http.MethodGet, "/api/timing/recommendation?user_id=u-1&type=travel_reminder&channels=fax", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown channel")
}

func TestGetMetrics(t *testing.T) {
	f := setupAPI(t)

	sentAt := time.Now().UTC().Add(-time.Hour)
	openedAt := sentAt.Add(10 * time.Minute)
	f.store.records = append(f.store.records, domain.NotificationAnalytics{
		NotificationID: "n-1",
		UserID:         "u-1",
		Type:           domain.TypeTravelReminder,
		Channel:        domain.ChannelEmail,
		Status:         domain.StatusDelivered,
		SentAt:         &sentAt,
		DeliveredAt:    &sentAt,
		OpenedAt:       &openedAt,
	})

	rec := doJSON(t, f.router, http.MethodGet, "/api/metrics?user_id=u-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	metrics := body["metrics"].(map[string]interface{})
	assert.Equal(t, float64(1), metrics["sent_count"])
	assert.Equal(t, float64(1), metrics["opened_count"])
	assert.Equal(t, float64(1), metrics["open_rate"])
}

func TestGenerateAndFetchReport(t *testing.T) {
	f := setupAPI(t)

	sentAt := time.Now().UTC().Add(-2 * time.Hour)
	f.store.records = append(f.store.records, domain.NotificationAnalytics{
		NotificationID: "n-1",
		UserID:         "u-1",
		Type:           domain.TypeTravelReminder,
		Channel:        domain.ChannelEmail,
		Status:         domain.StatusSent,
		SentAt:         &sentAt,
	})

	from := time.Now().UTC().Add(-24 * time.Hour)
	to := time.Now().UTC()
	rec := doJSON(t, f.router, http.MethodPost, "/api/reports", map[string]string{
		"from": from.Format(time.RFC3339),
		"to":   to.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	id := body["id"].(string)
	require.NotEmpty(t, id)
	require.Contains(t, f.archive.reports, id, "generated report is archived")

	rec = doJSON(t, f.router, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = doJSON(t, f.router, http.MethodGet, "/api/reports/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["id"])

	rec = doJSON(t, f.router, http.MethodGet, "/api/reports/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateReport_Validation(t *testing.T) {
	f := setupAPI(t)
	now := time.Now().UTC()

	rec := doJSON(t, f.router, http.MethodPost, "/api/reports", map[string]string{
		"from": "yesterday",
		"to":   now.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "bad from")

	rec = doJSON(t, f.router, http.MethodPost, "/api/reports", map[string]string{
		"from": now.Format(time.RFC3339),
		"to":   now.Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "inverted range")

	rec = doJSON(t, f.router, http.MethodPost, "/api/reports", map[string]string{
		"from":     now.Add(-time.Hour).Format(time.RFC3339),
		"to":       now.Format(time.RFC3339),
		"group_by": "fortnight",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported group_by")
}

func TestGetChannels(t *testing.T) {
	f := setupAPI(t)

	rec := doJSON(t, f.router, http.MethodGet, "/api/channels", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []interface{}{"email"}, body["channels"])
}

func TestGetInbox(t *testing.T) {
	f := setupAPI(t)
	f.inbox.saved = append(f.inbox.saved, domain.Notification{
		ID:       "n-1",
		UserID:   "u-1",
		Type:     domain.TypeTravelReminder,
		Channels: []domain.DeliveryChannel{domain.ChannelInApp},
		Content:  domain.NotificationContent{Subject: "Gate change", Body: "Now boarding at B12."},
	})

	rec := doJSON(t, f.router, http.MethodGet, "/api/notifications/inbox/u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["notifications"], 1)

	rec = doJSON(t, f.router, http.MethodGet, "/api/notifications/inbox/u-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["notifications"], 0)

	rec = doJSON(t, f.router, http.MethodGet, "/api/notifications/inbox/u-1?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamNotifications(t *testing.T) {
	f := setupAPI(t)

	server := httptest.NewServer(f.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/stream/u-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.hub.Connected("u-1") }, 2*time.Second, 10*time.Millisecond)

	n := &domain.Notification{
		ID:       "n-live",
		UserID:   "u-1",
		Type:     domain.TypeTravelReminder,
		Channels: []domain.DeliveryChannel{domain.ChannelInApp},
		Content:  domain.NotificationContent{Subject: "Boarding soon", Body: "Head to the gate."},
	}
	require.Equal(t, 1, f.hub.Publish("u-1", n))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var got domain.Notification
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got))
		assert.Equal(t, "n-live", got.ID)
		return
	}
	t.Fatal("stream closed before a data frame arrived")
}
