package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripwell/notify/internal/analytics"
	"github.com/tripwell/notify/internal/delivery"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/intelligence"
	"github.com/tripwell/notify/internal/scheduler"
	"github.com/tripwell/notify/internal/storage"
)

// defaultSendWindow bounds how far ahead the optimizer may defer a
// notification when the caller does not give an explicit window.
const defaultSendWindow = 24 * time.Hour

// Handlers carries the wired service dependencies for the HTTP surface.
type Handlers struct {
	manager      *delivery.Manager
	sched        *scheduler.Scheduler
	personalizer *intelligence.Personalizer
	timing       *intelligence.TimingOptimizer
	dir          directory.Directory
	store        analytics.Store
	calc         *analytics.Calculator
	reporter     *analytics.Reporter
	collector    *analytics.Collector
	hub          *delivery.Hub
	inbox        delivery.InboxStore
	archive      storage.Archive
}

// NewHandlers wires the handler set.
func NewHandlers(
	manager *delivery.Manager,
	sched *scheduler.Scheduler,
	personalizer *intelligence.Personalizer,
	timing *intelligence.TimingOptimizer,
	dir directory.Directory,
	store analytics.Store,
	calc *analytics.Calculator,
	reporter *analytics.Reporter,
	collector *analytics.Collector,
	hub *delivery.Hub,
	inbox delivery.InboxStore,
	archive storage.Archive,
) *Handlers {
	return &Handlers{
		manager:      manager,
		sched:        sched,
		personalizer: personalizer,
		timing:       timing,
		dir:          dir,
		store:        store,
		calc:         calc,
		reporter:     reporter,
		collector:    collector,
		hub:          hub,
		inbox:        inbox,
		archive:      archive,
	}
}

// HealthCheck reports service liveness and channel readiness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"channels": h.manager.ValidateAllHandlers(),
	})
}

// submitRequest is the POST /api/notifications payload.
type submitRequest struct {
	UserID   string                     `json:"user_id"`
	Type     domain.NotificationType    `json:"type"`
	Channels []domain.DeliveryChannel   `json:"channels"`
	Content  domain.NotificationContent `json:"content"`

	// Immediate skips timing optimization and delivers now.
	Immediate bool `json:"immediate,omitempty"`
	// SendAt pins the earliest send time (RFC3339). Empty means now.
	SendAt string `json:"send_at,omitempty"`
	// NotBefore/NotAfter hours narrow the candidate window further.
	WindowHours int `json:"window_hours,omitempty"`

	// Personalization context.
	UserName string                 `json:"user_name,omitempty"`
	Location string                 `json:"location,omitempty"`
	Vars     map[string]interface{} `json:"vars,omitempty"`
}

// SubmitNotification personalizes, picks a send time, and either queues
// or (for immediate sends) delivers the notification.
func (h *Handlers) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Content:   req.Content,
		Channels:  req.Channels,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	behavior, err := h.dir.Behavior(r.Context(), n.UserID)
	if err != nil {
		log.Printf("[API] Behavior lookup failed for %s: %v", n.UserID, err)
		behavior = nil
	}

	now := time.Now().UTC()
	n.Content = h.personalizer.Personalize(n.Content, n.Type, behavior, intelligence.PersonalizationContext{
		UserName: req.UserName,
		Location: req.Location,
		At:       now,
		Vars:     req.Vars,
	})

	if req.Immediate {
		results := h.manager.Deliver(r.Context(), n)
		for i := range results {
			if err := h.collector.RecordSent(r.Context(), n, &results[i]); err != nil {
				log.Printf("[API] Recording %s/%s failed: %v", n.ID, results[i].Channel, err)
			}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"notification_id": n.ID,
			"results":         results,
		})
		return
	}

	earliest := now
	if req.SendAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.SendAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "send_at must be RFC3339")
			return
		}
		earliest = parsed.UTC()
	}
	window := defaultSendWindow
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}

	rec := h.timing.GetOptimalTiming(behavior, n.Type, n.Channels, earliest, earliest.Add(window))
	if err := h.sched.Schedule(r.Context(), n, rec.RecommendedTime); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to queue notification")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"notification_id": n.ID,
		"scheduled_for":   rec.RecommendedTime.UTC().Format(time.RFC3339),
		"delay_minutes":   rec.DelayMinutes,
		"confidence":      rec.Confidence,
		"reasoning":       rec.Reasoning,
	})
}

// GetTimingRecommendation answers GET /api/timing/recommendation.
func (h *Handlers) GetTimingRecommendation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	typ := domain.NotificationType(q.Get("type"))
	if !typ.IsValid() {
		respondError(w, http.StatusBadRequest, "unknown notification type")
		return
	}

	channels := domain.AllChannels
	if raw := q.Get("channels"); raw != "" {
		channels = nil
		for _, part := range strings.Split(raw, ",") {
			ch := domain.DeliveryChannel(strings.TrimSpace(part))
			if !ch.IsValid() {
				respondError(w, http.StatusBadRequest, "unknown delivery channel "+string(ch))
				return
			}
			channels = append(channels, ch)
		}
	}

	earliest := time.Now().UTC()
	if raw := q.Get("earliest"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "earliest must be RFC3339")
			return
		}
		earliest = parsed.UTC()
	}
	latest := earliest.Add(defaultSendWindow)
	if raw := q.Get("latest"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "latest must be RFC3339")
			return
		}
		latest = parsed.UTC()
	}

	behavior, err := h.dir.Behavior(r.Context(), userID)
	if err != nil {
		log.Printf("[API] Behavior lookup failed for %s: %v", userID, err)
		behavior = nil
	}

	respondJSON(w, http.StatusOK, h.timing.GetOptimalTiming(behavior, typ, channels, earliest, latest))
}

// GetMetrics answers GET /api/metrics with filtered aggregate metrics
// plus the realtime counter snapshot.
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AnalyticsFilter{
		UserID:  q.Get("user_id"),
		Channel: domain.DeliveryChannel(q.Get("channel")),
		Type:    domain.NotificationType(q.Get("type")),
	}
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		filter.From = parsed.UTC()
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		filter.To = parsed.UTC()
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		log.Printf("[API] Metrics query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}

	realtime, err := h.collector.Realtime(r.Context())
	if err != nil {
		log.Printf("[API] Realtime snapshot failed: %v", err)
		realtime = nil
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":  h.calc.Compute(records, time.Now().UTC()),
		"realtime": realtime,
	})
}

// reportRequest is the POST /api/reports payload.
type reportRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	GroupBy string `json:"group_by,omitempty"`
}

// GenerateReport builds and archives a performance report.
func (h *Handlers) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		respondError(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	if to.Before(from) {
		respondError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	report, err := h.reporter.Generate(r.Context(), from.UTC(), to.UTC(), req.GroupBy)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// ListReports returns the archived report ids.
func (h *Handlers) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"reports": []string{}})
		return
	}
	ids, err := h.archive.ListReports(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": ids})
}

// GetReport returns one archived report snapshot.
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	report, err := h.archive.LoadReport(r.Context(), chi.URLParam(r, "reportID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "report not found")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// GetChannels lists the channels with a registered, enabled transport.
func (h *Handlers) GetChannels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"channels": h.manager.AvailableChannels(),
	})
}

// ValidateChannels reports per-channel transport readiness.
func (h *Handlers) ValidateChannels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.ValidateAllHandlers())
}

// GetInbox returns the persisted in-app inbox for a user, newest first.
func (h *Handlers) GetInbox(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	notifications, err := h.inbox.List(r.Context(), userID, limit)
	if err != nil {
		log.Printf("[API] Inbox read failed for %s: %v", userID, err)
		respondError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       userID,
		"notifications": notifications,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Encode response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
