package ingest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tripwell/notify/internal/domain"
)

// 1x1 transparent GIF served on open-tracking hits.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler exposes the tracking endpoints. Every endpoint publishes and
// answers immediately; processing happens in the queue consumer.
type Handler struct {
	pub *Publisher
}

// NewHandler creates the tracking handler.
func NewHandler(pub *Publisher) *Handler {
	return &Handler{pub: pub}
}

// Routes mounts the tracking surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{data}", h.HandleOpen)
	r.Get("/track/click/{data}", h.HandleClick)
	r.Get("/track/unsubscribe/{data}", h.HandleUnsubscribe)
	r.Post("/webhooks/provider", h.HandleProviderWebhook)
	r.Get("/health", h.HandleHealth)
	return r
}

// decodeData unpacks the base64 "notification|user|channel[|link]" token
// embedded in tracking URLs.
func decodeData(encoded string) (EngagementEvent, string, bool) {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return EngagementEvent{}, "", false
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) < 3 {
		return EngagementEvent{}, "", false
	}

	evt := EngagementEvent{
		NotificationID: parts[0],
		UserID:         parts[1],
		Channel:        domain.DeliveryChannel(parts[2]),
	}
	link := ""
	if len(parts) > 3 {
		link = parts[3]
	}
	return evt, link, true
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	evt, _, ok := decodeData(chi.URLParam(r, "data"))
	if ok {
		evt.EventType = EventOpened
		evt.IPAddress = realIP(r)
		evt.UserAgent = r.UserAgent()
		evt.Timestamp = time.Now().UTC()
		h.pub.Publish(r.Context(), evt)
	}
	// The pixel is always served; a bad token is not the reader's problem.
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	evt, link, ok := decodeData(chi.URLParam(r, "data"))
	if !ok || link == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	evt.EventType = EventClicked
	evt.LinkURL = link
	evt.IPAddress = realIP(r)
	evt.UserAgent = r.UserAgent()
	evt.Timestamp = time.Now().UTC()
	h.pub.Publish(r.Context(), evt)

	http.Redirect(w, r, link, http.StatusTemporaryRedirect)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	evt, _, ok := decodeData(chi.URLParam(r, "data"))
	if !ok {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	evt.EventType = EventUnsubscribed
	evt.IPAddress = realIP(r)
	evt.UserAgent = r.UserAgent()
	evt.Timestamp = time.Now().UTC()
	h.pub.Publish(r.Context(), evt)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You're unsubscribed</h1>
		<p>You will no longer receive these notifications.</p>
	</body></html>`))
}

// providerWebhook is the JSON body posted by delivery providers for
// post-send status (delivery receipts, bounces, conversions).
type providerWebhook struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Channel        string `json:"channel"`
	Event          string `json:"event"` // delivered, failed, converted
	Reason         string `json:"reason,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"` // RFC3339
}

func (h *Handler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	var payload providerWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.NotificationID == "" {
		http.Error(w, "notification_id is required", http.StatusBadRequest)
		return
	}

	var eventType EventType
	switch payload.Event {
	case "delivered":
		eventType = EventDelivered
	case "failed", "bounced":
		eventType = EventFailed
	case "converted":
		eventType = EventConverted
	default:
		http.Error(w, "unknown event", http.StatusBadRequest)
		return
	}

	at := time.Now().UTC()
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			at = parsed.UTC()
		}
	}

	h.pub.Publish(r.Context(), EngagementEvent{
		EventType:      eventType,
		NotificationID: payload.NotificationID,
		UserID:         payload.UserID,
		Channel:        domain.DeliveryChannel(payload.Channel),
		Reason:         payload.Reason,
		IPAddress:      realIP(r),
		Timestamp:      at,
	})

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// EncodeTrackingData builds the URL token for a tracked notification.
// The delivery transports embed this in outbound content.
func EncodeTrackingData(notificationID, userID string, ch domain.DeliveryChannel, link string) string {
	raw := strings.Join([]string{notificationID, userID, string(ch)}, "|")
	if link != "" {
		raw += "|" + link
	}
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
