package retrieve

import (
	"regexp"
	"strings"
)

// safetyRule is one row of the closed safety-critical domain table: a
// pattern that, when it matches the query, injects additional categories
// into the retrieval filter so safety-relevant memories are never excluded
// by a narrower category request.
type safetyRule struct {
	domain           string
	pattern          *regexp.Regexp
	injectCategories []string
	reason           string
}

var safetyRules = []safetyRule{
	{
		domain:           "food_dining",
		pattern:          regexp.MustCompile(`(?i)\b(eat|eating|food|restaurant|dinner|lunch|breakfast|recipe|cook|meal|menu|snack)\b`),
		injectCategories: []string{"health_wellness"},
		reason:           "food/dining queries must surface allergy and dietary memories",
	},
	{
		domain:           "physical_activity",
		pattern:          regexp.MustCompile(`(?i)\b(exercise|workout|gym|run(ning)?|hike|hiking|sport|training|lift(ing)?)\b`),
		injectCategories: []string{"health_wellness"},
		reason:           "activity queries must surface injury and condition memories",
	},
	{
		domain:           "medical",
		pattern:          regexp.MustCompile(`(?i)\b(medication|medicine|doctor|prescription|allergy|allergic|symptom|diagnosis|condition|treatment)\b`),
		injectCategories: []string{"health_wellness"},
		reason:           "medical queries must surface health memories directly",
	},
}

// detectSafetyCategories returns the categories a safety rule match would
// inject for query. The caller unions these into the requested category
// set — safety is additive, it never narrows a request.
func detectSafetyCategories(query string) (categories []string, detected bool) {
	seen := make(map[string]bool)
	for _, rule := range safetyRules {
		if rule.pattern.MatchString(query) {
			detected = true
			for _, c := range rule.injectCategories {
				if !seen[c] {
					seen[c] = true
					categories = append(categories, c)
				}
			}
		}
	}
	return categories, detected
}

// unionCategories merges requested and injected, deduplicated. An empty
// requested set means "no category filter", which already admits every
// injected category, so it is returned as nil whatever injected holds.
func unionCategories(requested, injected []string) []string {
	if len(requested) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(requested)+len(injected))
	out := make([]string, 0, len(requested)+len(injected))
	for _, c := range requested {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range injected {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// recallPatterns recognize explicit memory-recall queries: the user is
// asking the assistant to surface something it was told to remember.
var recallPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)what\s+did\s+(i|you)\s+(tell|ask)\s+(you\s+)?to\s+remember`),
	regexp.MustCompile(`(?i)what\s+(phrase|thing|fact)\s+did\s+i\s+ask\s+(you\s+)?to\s+remember`),
	regexp.MustCompile(`(?i)do\s+you\s+remember\s+(what|when|that)`),
	regexp.MustCompile(`(?i)what\s+do\s+you\s+remember\s+about\s+me`),
	regexp.MustCompile(`(?i)\bwhat\s+did\s+i\s+say\s+(about|regarding)\b`),
}

// isRecallQuery reports whether query is an explicit memory-recall request.
func isRecallQuery(query string) bool {
	for _, re := range recallPatterns {
		if re.MatchString(query) {
			return true
		}
	}
	return false
}

// personalNouns are first-person-adjacent terms whose presence marks a
// query as being about a personal fact rather than general knowledge.
var personalNouns = []string{
	"my", "i'm", "i am", "me", "mine", "myself",
}

// isPersonalQuery reports whether query reads as a first-person personal-fact
// question, used to pick the Stage 5 threshold tier.
func isPersonalQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range personalNouns {
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`).MatchString(lower) {
			return true
		}
	}
	return false
}

// synonyms maps salient personal-fact terms to related terms appended to
// the embedding input only — never shown to the user — to improve recall
// against memories phrased differently than the query.
var synonyms = map[string][]string{
	"phone":    {"cell", "mobile", "contact number"},
	"email":    {"e-mail", "contact address"},
	"job":      {"work", "occupation", "career", "employer"},
	"salary":   {"income", "pay", "compensation", "earnings"},
	"live":     {"residence", "address", "home", "location"},
	"wife":     {"spouse", "partner"},
	"husband":  {"spouse", "partner"},
	"kids":     {"children", "family"},
	"children": {"kids", "family"},
	"pet":      {"dog", "cat", "animal"},
	"allergy":  {"allergic", "allergies"},
	"birthday": {"birth date", "date of birth"},
}

// expandForEmbedding appends synonym terms for any salient term found in
// query, returning the augmented text used only for the embedding call.
func expandForEmbedding(query string) string {
	lower := strings.ToLower(query)
	var extra []string
	for term, syns := range synonyms {
		if strings.Contains(lower, term) {
			extra = append(extra, syns...)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

// ordinals maps an ordinal word to a canonical index, used by the Stage 4
// ordinal boost to distinguish "first code" from "second code".
var ordinals = map[string]int{
	"first":    1,
	"second":   2,
	"third":    3,
	"fourth":   4,
	"fifth":    5,
	"last":     -1,
	"previous": -2,
	"next":     -3,
}

var ordinalWordPattern = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|last|previous|next)\b`)

// detectOrdinal returns the canonical ordinal found in text and whether one
// was found.
func detectOrdinal(text string) (int, bool) {
	m := ordinalWordPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, ok := ordinals[strings.ToLower(m)]
	return v, ok
}
