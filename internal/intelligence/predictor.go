package intelligence

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/domain"
)

// confidenceNorm is the Σ|weight| mass at which the predictor reports
// full confidence.
const confidenceNorm = 10.0

// channelGoodHours is the fixed fallback table of historically effective
// hours per channel, used when a channel is not interaction-heavy or the
// user has declared no active hours.
var channelGoodHours = map[domain.DeliveryChannel][]int{
	domain.ChannelEmail:   {9, 14, 18},
	domain.ChannelSMS:     {11, 16}, // business-hours-only channel
	domain.ChannelPush:    {12, 18, 20},
	domain.ChannelInApp:   {10, 14, 19},
	domain.ChannelBrowser: {10, 15, 19},
}

// interactionHeavy marks the channels whose engagement tracks the user's
// own declared active hours rather than population-level tables.
var interactionHeavy = map[domain.DeliveryChannel]bool{
	domain.ChannelPush:  true,
	domain.ChannelInApp: true,
}

// A fast engagement (response within fastResponseMinutes of the send)
// counts more during training than a slow one.
const (
	fastResponseMinutes = 15.0
	fastResponseBoost   = 1.5
)

// trainingExample is one observed feedback outcome.
type trainingExample struct {
	features map[string]float64
	engaged  bool
	weight   float64
}

// sampleWeight scales the gradient for one example. Fast responses are
// the strongest timing signal; negative and slow outcomes carry unit
// weight. A negative responseMinutes means the response time is unknown.
func sampleWeight(engaged bool, responseMinutes float64) float64 {
	if engaged && responseMinutes >= 0 && responseMinutes <= fastResponseMinutes {
		return fastResponseBoost
	}
	return 1.0
}

// channelModel holds one channel's linear model and its rolling feedback
// buffer. All access goes through mu so concurrent predictions never see
// a half-applied gradient pass.
type channelModel struct {
	mu      sync.Mutex
	weights map[string]float64
	bias    float64
	buffer  []trainingExample
}

// Predictor is the per-channel engagement model. Weights start at zero
// (every prediction begins at the sigmoid midpoint) and move only through
// LearnFromFeedback.
type Predictor struct {
	cfg      appconfig.IntelligenceConfig
	features *FeatureExtractor

	mu     sync.RWMutex
	models map[domain.DeliveryChannel]*channelModel
}

// NewPredictor creates an engagement predictor.
func NewPredictor(cfg appconfig.IntelligenceConfig, features *FeatureExtractor) *Predictor {
	return &Predictor{
		cfg:      cfg,
		features: features,
		models:   make(map[domain.DeliveryChannel]*channelModel),
	}
}

func (p *Predictor) model(ch domain.DeliveryChannel) *channelModel {
	p.mu.RLock()
	m := p.models[ch]
	p.mu.RUnlock()
	if m != nil {
		return m
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m = p.models[ch]; m == nil {
		m = &channelModel{weights: make(map[string]float64)}
		p.models[ch] = m
	}
	return m
}

// PredictEngagement scores every requested channel for the user at time t
// and returns predictions sorted by probability, highest first.
func (p *Predictor) PredictEngagement(b *domain.UserBehaviorData, typ domain.NotificationType, channels []domain.DeliveryChannel, t time.Time) []domain.EngagementPrediction {
	out := make([]domain.EngagementPrediction, 0, len(channels))

	for _, ch := range channels {
		features := p.features.Combined(b, typ, ch, t)
		probability, confidence, contributions := p.score(ch, features)

		out = append(out, domain.EngagementPrediction{
			Channel:       ch,
			Probability:   domain.Clamp01(probability),
			Confidence:    domain.Clamp01(confidence),
			OptimalTime:   findOptimalTime(b, ch, t),
			Contributions: contributions,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	return out
}

// score computes the sigmoid-transformed linear sum for one channel plus
// the confidence and per-feature contributions.
func (p *Predictor) score(ch domain.DeliveryChannel, features map[string]float64) (float64, float64, map[string]float64) {
	m := p.model(ch)
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := m.bias
	weightMass := 0.0
	contributions := make(map[string]float64, len(features))

	for name, value := range features {
		w := m.weights[name] // missing weights default to 0
		contribution := w * value
		sum += contribution
		contributions[name] = contribution
		weightMass += math.Abs(w)
	}

	confidence := math.Min(weightMass/confidenceNorm, 1.0)
	return sigmoid(sum), confidence, contributions
}

// LearnFromFeedback appends one observed outcome to the channel's rolling
// buffer and, once the buffer has reached the minimum example count, runs
// a single stochastic-gradient pass over the most recent examples. Fast
// engagements get a boosted gradient via sampleWeight.
func (p *Predictor) LearnFromFeedback(b *domain.UserBehaviorData, typ domain.NotificationType, ch domain.DeliveryChannel, sentAt time.Time, engaged bool, responseMinutes float64) {
	features := p.features.Combined(b, typ, ch, sentAt)

	m := p.model(ch)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = append(m.buffer, trainingExample{
		features: features,
		engaged:  engaged,
		weight:   sampleWeight(engaged, responseMinutes),
	})
	if len(m.buffer) > p.cfg.BufferSize {
		m.buffer = m.buffer[len(m.buffer)-p.cfg.BufferSize:]
	}

	if len(m.buffer) < p.cfg.MinExamples {
		return
	}

	recent := m.buffer
	if len(recent) > p.cfg.MinExamples {
		recent = recent[len(recent)-p.cfg.MinExamples:]
	}

	for _, ex := range recent {
		sum := m.bias
		for name, value := range ex.features {
			sum += m.weights[name] * value
		}
		predicted := sigmoid(sum)

		actual := 0.0
		if ex.engaged {
			actual = 1.0
		}
		errTerm := (actual - predicted) * ex.weight

		for name, value := range ex.features {
			m.weights[name] = clipWeight(m.weights[name]+p.cfg.LearningRate*errTerm*value, p.cfg.WeightClip)
		}
		m.bias = clipWeight(m.bias+p.cfg.LearningRate*errTerm, p.cfg.WeightClip)
	}

	log.Printf("[Predictor] Updated %s model from %d examples (buffer %d)", ch, len(recent), len(m.buffer))
}

// Weights returns a copy of one channel's weight map, for diagnostics.
func (p *Predictor) Weights(ch domain.DeliveryChannel) map[string]float64 {
	m := p.model(ch)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out
}

// clipWeight bounds a weight to ±limit. Online learning with a fixed
// rate and no regularization can otherwise grow weights without bound
// under skewed feedback sequences.
func clipWeight(w, limit float64) float64 {
	if limit <= 0 {
		return w
	}
	return math.Max(-limit, math.Min(limit, w))
}

// findOptimalTime picks the channel's locally-optimal send time after t.
// Interaction-heavy channels follow the user's declared active hours,
// rolling forward to the next matching hour (next day if none remain
// today); other channels use the per-channel historical table.
func findOptimalTime(b *domain.UserBehaviorData, ch domain.DeliveryChannel, t time.Time) time.Time {
	local := t
	if b != nil && b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			local = t.In(loc)
		}
	}

	hours := channelGoodHours[ch]
	if interactionHeavy[ch] && b != nil && len(b.ActiveHours) > 0 {
		hours = append([]int(nil), b.ActiveHours...)
	}
	if len(hours) == 0 {
		hours = []int{10}
	}
	sort.Ints(hours)

	candidate := nextMatchingHour(local, hours)
	if ch == domain.ChannelSMS {
		// SMS stays on business days.
		for candidate.Weekday() == time.Saturday || candidate.Weekday() == time.Sunday {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}
	return candidate
}

// nextMatchingHour returns the next occurrence (strictly after t's hour
// start) of any hour in the sorted list.
func nextMatchingHour(t time.Time, sortedHours []int) time.Time {
	for _, h := range sortedHours {
		if h > t.Hour() {
			return time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, t.Location())
		}
	}
	// None remain today; roll to the first slot tomorrow.
	next := t.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), sortedHours[0], 0, 0, 0, t.Location())
}
