package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationValidate(t *testing.T) {
	valid := Notification{
		ID:       "n-1",
		UserID:   "u-1",
		Type:     TypeBookingConfirmation,
		Content:  NotificationContent{Subject: "Your booking is confirmed"},
		Channels: []DeliveryChannel{ChannelEmail, ChannelPush},
	}

	tests := []struct {
		name    string
		mutate  func(n *Notification)
		wantErr string
	}{
		{"valid", func(n *Notification) {}, ""},
		{"missing id", func(n *Notification) { n.ID = "" }, "notification id"},
		{"missing user", func(n *Notification) { n.UserID = "" }, "user id"},
		{"bad type", func(n *Notification) { n.Type = "carrier_pigeon" }, "unknown notification type"},
		{"no channels", func(n *Notification) { n.Channels = nil }, "at least one delivery channel"},
		{"bad channel", func(n *Notification) { n.Channels = []DeliveryChannel{"fax"} }, "unknown delivery channel"},
		{"empty content", func(n *Notification) { n.Content = NotificationContent{} }, "content is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			err := n.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestBehaviorDefaults(t *testing.T) {
	b := UserBehaviorData{ActiveHours: []int{9, 20}}

	assert.True(t, b.IsActiveHour(9))
	assert.False(t, b.IsActiveHour(3))
	assert.Equal(t, 0.5, b.EngagementRate(ChannelEmail), "missing history defaults to neutral")

	b.EngagementRates = map[DeliveryChannel]float64{ChannelEmail: 0.82}
	assert.Equal(t, 0.82, b.EngagementRate(ChannelEmail))
	assert.Equal(t, 0.5, b.EngagementRate(ChannelSMS))
}

func TestAnalyticsResponseMinutes(t *testing.T) {
	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	opened := sent.Add(45 * time.Minute)

	a := NotificationAnalytics{SentAt: &sent, OpenedAt: &opened}
	assert.Equal(t, 45.0, a.ResponseMinutes())

	a.OpenedAt = nil
	assert.Equal(t, -1.0, a.ResponseMinutes())
}
