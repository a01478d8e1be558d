package intelligence

import (
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/osteele/liquid"

	"github.com/tripwell/notify/internal/domain"
)

// highEngagementSubject gates the urgency glyph on the subject line.
const highEngagementSubject = 0.7

// highEngagementCTA gates the call-to-action remap.
const highEngagementCTA = 0.8

// ctaRemap swaps generic call-to-action phrases for punchier fixed
// alternatives. Only applied for highly email-engaged users.
var ctaRemap = map[string]string{
	"view details": "See What's Waiting",
	"learn more":   "Discover More",
	"check it out": "Don't Miss This",
}

// urgencyWords are the subject phrases that mark content as time-sensitive
// enough to carry the urgency glyph.
var urgencyWords = []string{"urgent", "reminder", "expires", "last chance", "act now", "ends"}

// greetingWords detect an existing salutation so we never double-greet.
var greetingWords = []string{"hi ", "hi,", "hello", "hey", "dear", "good morning", "good afternoon", "good evening", "welcome"}

// dealWords mark offer-style subjects eligible for the evening prefix.
var dealWords = []string{"deal", "offer", "sale", "discount", "% off"}

// PersonalizationContext carries the merge-tag variables and the clock
// used for time-of-day rules. At must be set by the caller; rendering is
// deterministic for a fixed At and identical inputs.
type PersonalizationContext struct {
	UserName string
	Location string
	At       time.Time
	Vars     map[string]interface{}
}

// Personalizer rewrites notification content using behavior signals.
// Purely textual: no persistence, no provider calls.
type Personalizer struct {
	engine *liquid.Engine
}

// NewPersonalizer creates a personalizer with the standard filter set.
func NewPersonalizer() *Personalizer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "traveler" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("titlecase", titleCase)

	return &Personalizer{engine: engine}
}

// Personalize renders merge tags in the content and then applies the
// behavior-driven rewrite rules. The input content is not mutated.
func (p *Personalizer) Personalize(content domain.NotificationContent, typ domain.NotificationType, b *domain.UserBehaviorData, pctx PersonalizationContext) domain.NotificationContent {
	out := content

	bindings := p.bindings(b, pctx)
	out.Subject = p.render(out.Subject, bindings)
	out.Body = p.render(out.Body, bindings)
	out.ActionText = p.render(out.ActionText, bindings)

	local := pctx.At
	if b != nil && b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			local = pctx.At.In(loc)
		}
	}

	out.Subject = personalizeSubject(out.Subject, typ, b, pctx, local)
	out.Body = personalizeBody(out.Body, b, local)
	out.ActionText = personalizeCTA(out.ActionText, b)
	return out
}

func (p *Personalizer) bindings(b *domain.UserBehaviorData, pctx PersonalizationContext) map[string]interface{} {
	m := map[string]interface{}{
		"first_name": pctx.UserName,
		"location":   pctx.Location,
	}
	if b != nil {
		m["user_id"] = b.UserID
		m["timezone"] = b.Timezone
	}
	for k, v := range pctx.Vars {
		m[k] = v
	}
	return m
}

// render runs a liquid pass; a template error leaves the raw text in
// place rather than dropping content from an outbound send.
func (p *Personalizer) render(text string, bindings map[string]interface{}) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	rendered, err := p.engine.ParseAndRenderString(text, bindings)
	if err != nil {
		log.Printf("[Personalizer] Template render error, keeping raw text: %v", err)
		return text
	}
	return rendered
}

func personalizeSubject(subject string, typ domain.NotificationType, b *domain.UserBehaviorData, pctx PersonalizationContext, local time.Time) string {
	if subject == "" {
		return subject
	}
	lower := strings.ToLower(subject)

	if b != nil && b.EngagementRate(domain.ChannelEmail) > highEngagementSubject && containsAny(lower, urgencyWords) {
		subject = "⚡ " + subject
	}

	if typ == domain.TypeRecommendation && pctx.Location != "" && !strings.Contains(lower, strings.ToLower(pctx.Location)) {
		subject = fmt.Sprintf("%s — near %s", subject, pctx.Location)
	}

	if containsAny(lower, dealWords) && local.Hour() >= 18 && local.Hour() <= 22 && !strings.HasPrefix(subject, "Tonight Only:") {
		subject = "Tonight Only: " + subject
	}

	return subject
}

func personalizeBody(body string, b *domain.UserBehaviorData, local time.Time) string {
	if body == "" {
		return body
	}

	if !containsAny(strings.ToLower(body), greetingWords) {
		body = greetingFor(local.Hour()) + "! " + body
	}

	if b != nil && len(b.PreferredChannels) > 0 && strings.Contains(strings.ToLower(body), "important") {
		body += fmt.Sprintf("\n\nWe sent this to your preferred channel (%s) so you wouldn't miss it.", b.PreferredChannels[0])
	}

	return body
}

func personalizeCTA(cta string, b *domain.UserBehaviorData) string {
	if cta == "" || b == nil || b.EngagementRate(domain.ChannelEmail) <= highEngagementCTA {
		return cta
	}
	if replacement, ok := ctaRemap[strings.ToLower(strings.TrimSpace(cta))]; ok {
		return replacement
	}
	return cta
}

func greetingFor(hour int) string {
	switch {
	case hour < 12:
		return "Good morning"
	case hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// titleCase uppercases the first letter of each space-separated word and
// lowercases the rest. Word-boundary only, no language-specific casing.
func titleCase(s string) string {
	words := strings.Split(strings.ToLower(s), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
