package intelligence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
)

// commonGoodHours are population-level hours worth scoring even when they
// do not fall on a candidate hour boundary inside the window.
var commonGoodHours = []int{9, 12, 15, 18, 20}

// maxAlternatives caps the number of near-best times returned alongside
// the recommendation.
const maxAlternatives = 3

// alternativeThreshold keeps a candidate as an alternative when its score
// is at least this fraction of the best score.
const alternativeThreshold = 0.8

// TimingOptimizer picks the best send time inside an allowed window by
// scoring hourly candidates through the engagement predictor and a set of
// time-of-day heuristics.
type TimingOptimizer struct {
	predictor     *Predictor
	dir           directory.Directory
	minDataPoints int
}

// NewTimingOptimizer creates a timing optimizer. dir may be nil when the
// caller never uses UpdateUserModel.
func NewTimingOptimizer(predictor *Predictor, dir directory.Directory, cfg appconfig.IntelligenceConfig) *TimingOptimizer {
	return &TimingOptimizer{predictor: predictor, dir: dir, minDataPoints: cfg.MinDataPoints}
}

type scoredCandidate struct {
	at    time.Time
	score float64
}

// GetOptimalTiming returns the best send time between earliest and latest
// for the given user, notification type, and channel set.
func (o *TimingOptimizer) GetOptimalTiming(b *domain.UserBehaviorData, typ domain.NotificationType, channels []domain.DeliveryChannel, earliest, latest time.Time) *domain.TimingRecommendation {
	if latest.Before(earliest) {
		latest = earliest
	}

	candidates := o.generateCandidates(earliest, latest)

	var best scoredCandidate
	scored := make([]scoredCandidate, 0, len(candidates))
	bestPreds := []domain.EngagementPrediction(nil)

	for _, at := range candidates {
		preds := o.predictor.PredictEngagement(b, typ, channels, at)
		score := compositeScore(b, preds, at)
		scored = append(scored, scoredCandidate{at: at, score: score})
		if best.at.IsZero() || score > best.score {
			best = scoredCandidate{at: at, score: score}
			bestPreds = preds
		}
	}

	if best.at.IsZero() {
		best = scoredCandidate{at: earliest}
	}

	confidence := 0.0
	if len(bestPreds) > 0 {
		confidence = bestPreds[0].Confidence
	}

	alternatives := pickAlternatives(scored, best)

	rec := &domain.TimingRecommendation{
		RecommendedTime:  best.at,
		Confidence:       domain.Clamp01(confidence),
		DelayMinutes:     int(best.at.Sub(earliest).Minutes()),
		Reasoning:        buildReasoning(b, typ, channels, best.at),
		AlternativeTimes: alternatives,
	}
	return rec
}

// generateCandidates yields hourly timestamps across the window plus the
// commonly good hours on each day, clipped to the window.
func (o *TimingOptimizer) generateCandidates(earliest, latest time.Time) []time.Time {
	seen := make(map[int64]bool)
	var out []time.Time

	add := func(t time.Time) {
		if t.Before(earliest) || t.After(latest) {
			return
		}
		key := t.Unix()
		if !seen[key] {
			seen[key] = true
			out = append(out, t)
		}
	}

	start := earliest.Truncate(time.Hour)
	if start.Before(earliest) {
		start = start.Add(time.Hour)
	}
	add(earliest)
	for t := start; !t.After(latest); t = t.Add(time.Hour) {
		add(t)
	}

	for day := earliest.Truncate(24 * time.Hour); !day.After(latest); day = day.AddDate(0, 0, 1) {
		for _, h := range commonGoodHours {
			add(time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, earliest.Location()))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// compositeScore blends the best per-channel prediction with time-of-day
// heuristics.
func compositeScore(b *domain.UserBehaviorData, preds []domain.EngagementPrediction, at time.Time) float64 {
	base := 0.0
	for _, p := range preds {
		if v := p.Probability * p.Confidence; v > base {
			base = v
		}
	}
	// A zero-confidence cold-start model still needs a usable ranking,
	// so the heuristics operate on a small floor.
	if base == 0 {
		base = 0.1
	}

	local := at
	if b != nil && b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			local = at.In(loc)
		}
	}
	hour := local.Hour()

	score := base
	if b != nil && b.IsActiveHour(hour) {
		score *= 1.2
	}
	if hour < 6 || hour > 22 {
		score *= 0.5
	}
	if hour >= 9 && hour <= 17 {
		score *= 1.1
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		score *= 0.9
	}
	return score
}

// pickAlternatives keeps near-best candidates (≥80% of the best score),
// capped to 3, sorted chronologically.
func pickAlternatives(scored []scoredCandidate, best scoredCandidate) []time.Time {
	var near []scoredCandidate
	for _, c := range scored {
		if c.at.Equal(best.at) {
			continue
		}
		if c.score >= best.score*alternativeThreshold {
			near = append(near, c)
		}
	}
	sort.Slice(near, func(i, j int) bool { return near[i].score > near[j].score })
	if len(near) > maxAlternatives {
		near = near[:maxAlternatives]
	}

	out := make([]time.Time, 0, len(near))
	for _, c := range near {
		out = append(out, c.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// buildReasoning explains the recommendation from a small rule set.
func buildReasoning(b *domain.UserBehaviorData, typ domain.NotificationType, channels []domain.DeliveryChannel, at time.Time) string {
	local := at
	if b != nil && b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			local = at.In(loc)
		}
	}
	hour := local.Hour()

	var reasons []string
	if b != nil && b.IsActiveHour(hour) {
		reasons = append(reasons, fmt.Sprintf("%02d:00 matches the user's active hours", hour))
	}
	if hour >= 9 && hour <= 17 {
		reasons = append(reasons, "falls within business hours")
	}
	for _, ch := range channels {
		for _, h := range channelGoodHours[ch] {
			if h == hour {
				reasons = append(reasons, fmt.Sprintf("%02d:00 is a historically strong hour for %s", hour, ch))
				break
			}
		}
	}
	if u := typeUrgency[typ]; u >= 0.9 {
		reasons = append(reasons, "urgent content is scheduled at the earliest effective slot")
	}

	if len(reasons) == 0 {
		return "Scheduled at a generally effective engagement time"
	}
	return strings.Join(reasons, "; ")
}

// UpdateUserModel recomputes a user's stored timing model from a batch of
// lifecycle records. Channels with fewer than the configured minimum data
// points are left unchanged rather than overwritten with noise.
func (o *TimingOptimizer) UpdateUserModel(ctx context.Context, userID string, events []domain.NotificationAnalytics) error {
	if o.dir == nil {
		return fmt.Errorf("no directory configured for model updates")
	}

	behavior, err := o.dir.Behavior(ctx, userID)
	if err != nil {
		return fmt.Errorf("load behavior: %w", err)
	}

	type channelStats struct {
		total, opened int
		openHours     map[int]bool
		responseSum   float64
		responseCount int
	}
	stats := make(map[domain.DeliveryChannel]*channelStats)

	for _, ev := range events {
		if ev.UserID != userID || ev.SentAt == nil {
			continue
		}
		s := stats[ev.Channel]
		if s == nil {
			s = &channelStats{openHours: make(map[int]bool)}
			stats[ev.Channel] = s
		}
		s.total++
		if ev.Opened() {
			s.opened++
			s.openHours[ev.SentAt.Hour()] = true
			if rm := ev.ResponseMinutes(); rm >= 0 {
				s.responseSum += rm
				s.responseCount++
			}
		}
	}

	if behavior.EngagementRates == nil {
		behavior.EngagementRates = make(map[domain.DeliveryChannel]float64)
	}
	if behavior.ResponseTimes == nil {
		behavior.ResponseTimes = make(map[domain.DeliveryChannel]float64)
	}

	updated := 0
	hourSet := make(map[int]bool)
	for _, h := range behavior.ActiveHours {
		hourSet[h] = true
	}

	for ch, s := range stats {
		if s.total < o.minDataPoints {
			continue // sparse channel, keep the existing model
		}
		behavior.EngagementRates[ch] = float64(s.opened) / float64(s.total)
		if s.responseCount > 0 {
			behavior.ResponseTimes[ch] = s.responseSum / float64(s.responseCount)
		}
		for h := range s.openHours {
			hourSet[h] = true
		}
		updated++
	}

	if updated == 0 {
		return nil
	}

	behavior.ActiveHours = behavior.ActiveHours[:0]
	for h := range hourSet {
		behavior.ActiveHours = append(behavior.ActiveHours, h)
	}
	sort.Ints(behavior.ActiveHours)

	if err := o.dir.SaveBehavior(ctx, behavior); err != nil {
		return fmt.Errorf("save behavior: %w", err)
	}
	log.Printf("[Timing] Updated timing model for user %s (%d channels)", userID, updated)
	return nil
}
