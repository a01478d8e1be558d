// Package intelligence contains the ML-lite services behind send-time
// optimization: feature extraction, per-channel engagement prediction with
// online learning, timing optimization, and content personalization.
package intelligence

import (
	"math"
	"time"

	"github.com/tripwell/notify/internal/domain"
)

// Feature names shared between the extractor and the predictor.
const (
	featHourOfDay      = "hour_of_day"
	featDayOfWeek      = "day_of_week"
	featTimezoneOffset = "timezone_offset"
	featIsActiveHour   = "is_active_hour"
	featAvgActiveHour  = "avg_active_hour"
	featRecency        = "recency"
	featSeasonal       = "seasonal"
	featIsBusinessHour = "is_business_hours"
	featIsWeekend      = "is_weekend"
	featUrgency        = "urgency"
)

// recencyCapHours caps the hours-since-last-active feature at one week.
const recencyCapHours = 168.0

// typeUrgency maps notification types to a fixed urgency scalar. Safety
// content tops the scale; promotional content sits at the bottom.
var typeUrgency = map[domain.NotificationType]float64{
	domain.TypeSafetyAlert:         1.0,
	domain.TypeWeatherAlert:        0.9,
	domain.TypeBookingConfirmation: 0.8,
	domain.TypeTravelReminder:      0.7,
	domain.TypePriceDropAlert:      0.6,
	domain.TypeRecommendation:      0.4,
	domain.TypeSocialActivity:      0.3,
	domain.TypePromotional:         0.1,
}

// FeatureExtractor turns user behavior snapshots and notification context
// into flat numeric feature maps. Pure computation: no I/O, deterministic
// for identical inputs and clock.
type FeatureExtractor struct{}

// NewFeatureExtractor creates a feature extractor.
func NewFeatureExtractor() *FeatureExtractor { return &FeatureExtractor{} }

// ExtractUserFeatures derives features from a behavior snapshot at time t.
// Malformed or missing behavior fields degrade to neutral values instead
// of failing the prediction.
func (e *FeatureExtractor) ExtractUserFeatures(b *domain.UserBehaviorData, t time.Time) map[string]float64 {
	f := make(map[string]float64, 16)

	local := t
	offset := 0.0
	if b != nil && b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			local = t.In(loc)
			_, secs := local.Zone()
			offset = float64(secs) / 3600.0
		}
	}

	f[featHourOfDay] = float64(local.Hour()) / 23.0
	f[featDayOfWeek] = float64(local.Weekday()) / 6.0
	f[featTimezoneOffset] = (offset + 12.0) / 24.0

	if b == nil {
		f[featIsActiveHour] = 0.5
		f[featAvgActiveHour] = 0.5
		f[featRecency] = 0.5
		f[featSeasonal] = seasonal(t)
		return f
	}

	if len(b.ActiveHours) == 0 {
		f[featIsActiveHour] = 0.5
		f[featAvgActiveHour] = 0.5
	} else {
		if b.IsActiveHour(local.Hour()) {
			f[featIsActiveHour] = 1.0
		}
		sum := 0
		for _, h := range b.ActiveHours {
			sum += h
		}
		f[featAvgActiveHour] = float64(sum) / float64(len(b.ActiveHours)) / 23.0
	}

	for i, ch := range b.PreferredChannels {
		// Earlier preferences weigh more.
		f["pref_"+string(ch)] = 1.0 - float64(i)*0.2
	}
	for ch, rate := range b.EngagementRates {
		f["engagement_"+string(ch)] = domain.Clamp01(rate)
	}
	for ch, minutes := range b.ResponseTimes {
		// Normalize against a 24h horizon; quick responders score low.
		f["response_time_"+string(ch)] = domain.Clamp01(minutes / 1440.0)
	}

	if b.LastActive.IsZero() {
		f[featRecency] = 0.5
	} else {
		hours := math.Min(t.Sub(b.LastActive).Hours(), recencyCapHours)
		if hours < 0 {
			hours = 0
		}
		f[featRecency] = hours / recencyCapHours
	}

	f[featSeasonal] = seasonal(t)
	return f
}

// ExtractNotificationFeatures derives features from the notification type
// and target channel at time t.
func (e *FeatureExtractor) ExtractNotificationFeatures(typ domain.NotificationType, ch domain.DeliveryChannel, t time.Time) map[string]float64 {
	f := make(map[string]float64, 8)

	f["type_"+string(typ)] = 1.0
	f["channel_"+string(ch)] = 1.0

	if u, ok := typeUrgency[typ]; ok {
		f[featUrgency] = u
	} else {
		f[featUrgency] = 0.5
	}

	hour := t.Hour()
	if hour >= 9 && hour <= 17 {
		f[featIsBusinessHour] = 1.0
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		f[featIsWeekend] = 1.0
	}

	return f
}

// Combined merges user and notification features into one vector.
func (e *FeatureExtractor) Combined(b *domain.UserBehaviorData, typ domain.NotificationType, ch domain.DeliveryChannel, t time.Time) map[string]float64 {
	f := e.ExtractUserFeatures(b, t)
	for k, v := range e.ExtractNotificationFeatures(typ, ch, t) {
		f[k] = v
	}
	return f
}

// seasonal maps day-of-year onto a [0,1] sinusoid so the model can pick
// up travel seasonality.
func seasonal(t time.Time) float64 {
	return (math.Sin(2*math.Pi*float64(t.YearDay())/365.0) + 1.0) / 2.0
}

// sigmoid is the logistic transform used by the predictor.
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
