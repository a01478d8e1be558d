package domain

import "time"

// EngagementPrediction is the per-channel output of the engagement
// predictor for one (user, notification type, channel, candidate time).
// Ephemeral: computed on demand, never persisted.
type EngagementPrediction struct {
	Channel       DeliveryChannel    `json:"channel"`
	Probability   float64            `json:"probability"` // clamped to [0,1]
	Confidence    float64            `json:"confidence"`  // clamped to [0,1]
	OptimalTime   time.Time          `json:"optimal_time"`
	Contributions map[string]float64 `json:"contributions,omitempty"` // feature -> weight*value
}

// TimingRecommendation is the timing optimizer's final answer.
type TimingRecommendation struct {
	RecommendedTime  time.Time   `json:"recommended_time"`
	Confidence       float64     `json:"confidence"`
	DelayMinutes     int         `json:"delay_minutes"`
	Reasoning        string      `json:"reasoning"`
	AlternativeTimes []time.Time `json:"alternative_times,omitempty"` // chronological, at most 3
}
