// Package fingerprint maps free-text content to a canonical fact key (a
// "fingerprint") with a confidence score and a value-signature guard. It
// is the first stage of the store pipeline: the storage engine only runs
// its supersession transaction when Classify returns a fingerprint whose
// ValueSignature is true and whose Confidence clears the storage engine's
// fixed floor (0.85 in store/postgres and store/sqlite).
//
// Classification is two-stage: an ordered, zero-external-call rule pass,
// then an optional bounded LLM fallback when the rules find nothing.
// Both stages pass their candidate through the same value-signature
// guard, so "I don't have a phone" is never classified as
// user_phone_number regardless of which stage proposed it.
package fingerprint

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/quietloop/memoria"
)

// classifierFallbackDeadline bounds the optional external classification
// call. Must never exceed 2s.
const classifierFallbackDeadline = 2 * time.Second

// classifierConfidenceCap is the maximum confidence attributed to a
// classifier-fallback match, always lower than a deterministic rule's
// declared confidence.
const classifierConfidenceCap = 0.75

// rule is one entry in the deterministic pass: a canonical key, the
// patterns that propose it, the confidence it carries when proposed, and
// the literal-value guard its content must additionally satisfy.
type rule struct {
	key        string
	confidence float64
	trigger    *regexp.Regexp
	valueOK    func(content string) bool
}

var digitRun = regexp.MustCompile(`\d`)

func countDigits(s string) int {
	return len(digitRun.FindAllString(s, -1))
}

var (
	phoneValue      = regexp.MustCompile(`\d[\d().\-\s]{5,}\d`)
	emailValue      = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	timeValue       = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\b\d{1,2}:\d{2}\b`)
	currencyValue   = regexp.MustCompile(`(?i)[$€£]\s?\d[\d,]*(\.\d+)?\s?(k|m)?|\b\d[\d,]*(\.\d+)?\s?(k|usd|dollars|per\s+year|/\s?year|/\s?yr)\b`)
	ageValue        = regexp.MustCompile(`\b\d{1,3}\b`)
	timezoneValue   = regexp.MustCompile(`(?i)\bUTC[+-]?\d{0,2}(:\d{2})?\b|\bGMT[+-]?\d{0,2}\b|\b(PST|PDT|MST|MDT|CST|CDT|EST|EDT|IST|CET|JST|WIB|WITA|WIT)\b|[a-z]+/[a-z_]+`)
	childrenValue   = regexp.MustCompile(`\b\d{1,2}\b|\bno\b|\bzero\b|\bone\b|\btwo\b|\bthree\b|\bfour\b|\bfive\b`)
	colorWords      = []string{"red", "blue", "green", "yellow", "purple", "orange", "pink", "black", "white", "gray", "grey", "teal", "cyan", "magenta", "brown", "turquoise", "indigo", "violet", "maroon", "gold", "silver"}
	maritalWords    = []string{"single", "married", "divorced", "widowed", "engaged", "separated", "partnered"}
	negationPattern = regexp.MustCompile(`(?i)\b(don'?t|do not|never|no|none|without|haven'?t|hasn'?t)\b`)
)

func containsAny(content string, words []string) bool {
	lower := strings.ToLower(content)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// petValueOK is the guard for user_pet: the trigger has no literal value
// of its own to check, so this only defends against negation — "I don't
// have a pet" should not be classified as a positive pet fact.
func petValueOK(content string) bool {
	return !negationPattern.MatchString(strings.ToLower(beforeIs(content)))
}

// rules is the ordered deterministic pass. The first rule whose trigger
// matches proposes a fingerprint; if its valueOK guard then fails, the
// match is rejected and the pass continues to the next rule.
var rules = []rule{
	{
		key:        "user_phone_number",
		confidence: 0.92,
		trigger:    regexp.MustCompile(`(?i)\b(my\s+)?(phone|cell|mobile)\s*(number|no\.?)?\s*(is|:)?\b|\bcall\s+me\s+at\b|\btext\s+me\s+at\b`),
		valueOK:    func(c string) bool { return phoneValue.MatchString(c) && countDigits(c) >= 7 },
	},
	{
		key:        "user_email",
		confidence: 0.95,
		trigger:    regexp.MustCompile(`(?i)\b(my\s+)?e-?mail\s*(address)?\s*(is|:)?\b`),
		valueOK:    func(c string) bool { return emailValue.MatchString(c) },
	},
	{
		key:        "user_salary",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\b(my\s+)?(salary|income|pay|compensation)\s*(is|:)?\b|\bi\s+(make|earn)\b`),
		valueOK:    func(c string) bool { return currencyValue.MatchString(c) },
	},
	{
		key:        "user_meeting_time",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\b(meeting|call|appointment|sync|standup)\s+(is\s+)?(at|scheduled)\b|\bschedule(d)?\s+(a\s+)?(meeting|call)\s+(for|at)\b`),
		valueOK:    func(c string) bool { return timeValue.MatchString(c) },
	},
	{
		key:        "user_age",
		confidence: 0.88,
		trigger:    regexp.MustCompile(`(?i)\bi\s*('m|\s+am)\s+\d|\bmy\s+age\s+is\b|\byears?\s+old\b`),
		valueOK:    ageValue.MatchString,
	},
	{
		key:        "user_timezone",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bmy\s+time\s*zone\s*(is|:)?\b|\bi'?m\s+(in|on)\s+(UTC|GMT)\b`),
		valueOK:    timezoneValue.MatchString,
	},
	{
		key:        "user_marital_status",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bi\s*('m|\s+am)\s+(single|married|divorced|widowed|engaged|separated)\b|\bmy\s+marital\s+status\s+is\b`),
		valueOK:    func(c string) bool { return containsAny(c, maritalWords) },
	},
	{
		key:        "user_spouse_name",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bmy\s+(wife|husband|spouse|partner)('s name)?\s+is\b`),
		valueOK:    func(c string) bool { return nonTrivialRemainder(c, `(?i)\bmy\s+(wife|husband|spouse|partner)('s name)?\s+is\b`) },
	},
	{
		key:        "user_children_count",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bi\s+have\s+\d+\s+(kids?|children)\b|\bmy\s+(kids?|children)\b.*\bi\s+have\b|\bnumber\s+of\s+(kids?|children)\b`),
		valueOK:    childrenValue.MatchString,
	},
	{
		key:        "user_pet",
		confidence: 0.80,
		trigger:    regexp.MustCompile(`(?i)\bmy\s+(dog|cat|pet|bird|hamster|rabbit|fish)('s name)?\s+is\b|\bi\s+have\s+a\s+(dog|cat|pet|bird|hamster|rabbit|fish)\b`),
		valueOK:    petValueOK,
	},
	{
		key:        "user_favorite_color",
		confidence: 0.90,
		trigger:    regexp.MustCompile(`(?i)\bmy\s+favou?rite\s+colou?r\s+is\b`),
		valueOK:    func(c string) bool { return containsAny(c, colorWords) },
	},
	{
		key:        "user_job_title",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bi\s+(work\s+as|am)\s+an?\b.*\b(engineer|manager|director|designer|developer|analyst|consultant|lead|architect|officer|nurse|doctor|teacher|lawyer)\b|\bmy\s+job\s+title\s+is\b`),
		valueOK:    func(c string) bool { return true },
	},
	{
		key:        "user_employer",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bi\s+work\s+(at|for)\b|\bmy\s+(employer|company)\s+is\b`),
		valueOK:    func(c string) bool { return nonTrivialRemainder(c, `(?i)\bi\s+work\s+(at|for)\b|\bmy\s+(employer|company)\s+is\b`) },
	},
	{
		key:        "user_residence",
		confidence: 0.85,
		trigger:    regexp.MustCompile(`(?i)\bi\s+live\s+in\b|\bi\s+(just\s+)?moved\s+to\b|\bmy\s+(home\s+)?address\s+is\b`),
		valueOK:    func(c string) bool { return nonTrivialRemainder(c, `(?i)\bi\s+live\s+in\b|\bi\s+(just\s+)?moved\s+to\b|\bmy\s+(home\s+)?address\s+is\b`) },
	},
	{
		key:        "user_name",
		confidence: 0.90,
		trigger:    regexp.MustCompile(`(?i)\bmy\s+name\s+is\b|\bi'?m\s+called\b|\bpeople\s+call\s+me\b`),
		valueOK:    func(c string) bool { return nonTrivialRemainder(c, `(?i)\bmy\s+name\s+is\b|\bi'?m\s+called\b|\bpeople\s+call\s+me\b`) },
	},
}

// beforeIs returns the portion of content before the first " have ", or,
// when there is none, before the first " is ", which is where a negation word like "don't" would appear for patterns
// like "I don't have a pet".
func beforeIs(content string) string {
	lower := strings.ToLower(content)
	if idx := strings.Index(lower, " have "); idx >= 0 {
		return content[:idx]
	}
	if idx := strings.Index(lower, " is "); idx >= 0 {
		return content[:idx]
	}
	return content
}

// nonTrivialRemainder reports whether content has non-whitespace text
// remaining after stripping the first match of triggerPattern — a guard
// against content that matches the trigger phrase but carries no value
// ("my name is" with nothing after it).
func nonTrivialRemainder(content, triggerPattern string) bool {
	re := regexp.MustCompile(triggerPattern)
	loc := re.FindStringIndex(content)
	if loc == nil {
		return false
	}
	rest := strings.TrimSpace(content[loc[1]:])
	rest = strings.Trim(rest, ".,!?:;\"' ")
	return len(rest) > 0
}

// Classifier runs the two-stage fingerprint classification: a zero-cost
// deterministic rule pass, then an optional bounded external fallback.
type Classifier struct {
	fallback        memoria.Classifier
	fallbackEnabled bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFallback enables the bounded external classifier fallback, used only
// when the deterministic pass produces nothing.
func WithFallback(c memoria.Classifier) Option {
	return func(cl *Classifier) {
		cl.fallback = c
		cl.fallbackEnabled = true
	}
}

// New creates a Classifier. Without WithFallback, classification is purely
// deterministic and never makes an external call.
func New(opts ...Option) *Classifier {
	c := &Classifier{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify runs the deterministic pass and, if nothing is found and a
// fallback is configured, the bounded classifier fallback. The returned
// Fingerprint's Present() is true only when a rule's value-signature guard
// passed.
func (c *Classifier) Classify(ctx context.Context, content string) (memoria.Fingerprint, error) {
	if strings.TrimSpace(content) == "" {
		return memoria.Fingerprint{Method: memoria.FingerprintNone}, nil
	}

	if fp, ok := c.deterministic(content); ok {
		return fp, nil
	}

	if !c.fallbackEnabled || c.fallback == nil {
		return memoria.Fingerprint{Method: memoria.FingerprintNone}, nil
	}

	return c.classifyFallback(ctx, content)
}

// deterministic runs stage 1. The bool return distinguishes "a fingerprint
// was produced" (possibly rejected) from "no rule even fired" so Classify
// knows whether to continue to the fallback.
func (c *Classifier) deterministic(content string) (memoria.Fingerprint, bool) {
	var rejected *memoria.Fingerprint
	for _, r := range rules {
		if !r.trigger.MatchString(content) {
			continue
		}
		if r.valueOK(content) {
			return memoria.Fingerprint{
				Key:            r.key,
				Confidence:     r.confidence,
				Method:         memoria.FingerprintDeterministic,
				ValueSignature: true,
			}, true
		}
		if rejected == nil {
			rejected = &memoria.Fingerprint{
				Key:            r.key,
				Confidence:     r.confidence,
				Method:         memoria.FingerprintRejected,
				ValueSignature: false,
			}
		}
	}
	if rejected != nil {
		return *rejected, true
	}
	return memoria.Fingerprint{}, false
}

// classifyFallback calls the configured external classifier with a bounded
// deadline. A timeout or an unknown/rejected label is non-fatal and
// returns "no fingerprint" rather than propagating an error — fingerprint
// classification must never fail the store path.
func (c *Classifier) classifyFallback(ctx context.Context, content string) (memoria.Fingerprint, error) {
	fctx, cancel := context.WithTimeout(ctx, classifierFallbackDeadline)
	defer cancel()

	fp, err := c.fallback.Classify(fctx, content)
	if err != nil {
		if fctx.Err() != nil {
			return memoria.Fingerprint{Method: memoria.FingerprintTimeout}, nil
		}
		return memoria.Fingerprint{Method: memoria.FingerprintNone}, nil
	}
	if fp.Key == "" {
		return memoria.Fingerprint{Method: memoria.FingerprintNone}, nil
	}
	if fp.Confidence > classifierConfidenceCap {
		fp.Confidence = classifierConfidenceCap
	}
	if !knownKey(fp.Key) {
		return memoria.Fingerprint{Key: fp.Key, Method: memoria.FingerprintRejected}, nil
	}
	if !valueOKFor(fp.Key, content) {
		return memoria.Fingerprint{Key: fp.Key, Confidence: fp.Confidence, Method: memoria.FingerprintRejected}, nil
	}
	fp.Method = memoria.FingerprintModel
	fp.ValueSignature = true
	return fp, nil
}

func knownKey(key string) bool {
	for _, r := range rules {
		if r.key == key {
			return true
		}
	}
	return false
}

func valueOKFor(key, content string) bool {
	for _, r := range rules {
		if r.key == key {
			return r.valueOK(content)
		}
	}
	return false
}
