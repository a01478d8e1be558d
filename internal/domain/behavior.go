package domain

import "time"

// UserBehaviorData is a per-user engagement snapshot consumed by the
// intelligence services. It is read-only input to prediction; only the
// timing optimizer's model-update routine replaces its fields, and only
// when enough fresh analytics events have accumulated.
type UserBehaviorData struct {
	UserID            string                      `json:"user_id"`
	Timezone          string                      `json:"timezone"`
	ActiveHours       []int                       `json:"active_hours"`
	PreferredChannels []DeliveryChannel           `json:"preferred_channels"`
	EngagementRates   map[DeliveryChannel]float64 `json:"engagement_rates"`
	ResponseTimes     map[DeliveryChannel]float64 `json:"response_times"` // minutes
	LastActive        time.Time                   `json:"last_active"`
}

// IsActiveHour reports whether hour (0-23) is in the user's active set.
func (b *UserBehaviorData) IsActiveHour(hour int) bool {
	for _, h := range b.ActiveHours {
		if h == hour {
			return true
		}
	}
	return false
}

// EngagementRate returns the user's engagement rate for a channel,
// defaulting to a neutral 0.5 when no history exists.
func (b *UserBehaviorData) EngagementRate(ch DeliveryChannel) float64 {
	if b.EngagementRates == nil {
		return 0.5
	}
	if r, ok := b.EngagementRates[ch]; ok {
		return r
	}
	return 0.5
}
