// Package retrieval implements the deterministic retrieval planner
// (§4.3): given a turn's messages and query, it decides which tiers
// and which search modalities the orchestrator should consult.
// Grounded on original_source/src/context_engine/retrieval_planner.rs.
package retrieval

import (
	"math"
	"regexp"
	"strings"
)

// Plan is §3's Retrieval Plan.
type Plan struct {
	UseTier1          bool
	UseTier2          bool
	UseTier3          bool
	CrossSessionSearch bool
	SemanticSearch    bool
	KeywordSearch     bool
	TemporalSearch    bool
	MaxMessages       int
	MaxTokens         int
	TargetCompression float64
	Topics            []string
	NeedsRetrieval    bool
}

// Message is the minimal shape the planner needs from a turn's messages.
type Message struct {
	Role    string
	Content string
}

// Input bundles the planner's decision inputs (§4.3).
type Input struct {
	SessionID         string
	CurrentMessages   []Message
	MaxContextTokens  int
	UserQuery         string
	HasPastRefs       bool
	SessionHasSummaries bool
	SessionHasDBMessages bool
	ConversationLength int // total turns so far, for the >30/>100 rules
}

var pastReferencePhrases = []string{
	"earlier", "before", "previous", "last time", "yesterday",
	"we discussed", "we talked about", "remember", "recall",
	"did we talk", "have we discussed", "what did we say",
	"what was said", "mentioned earlier", "previously mentioned",
}

var crossSessionPhrases = []string{
	"previously", "before", "earlier", "last time", "yesterday",
	"do you remember", "we discussed", "we talked about",
	"what did we talk", "remember when", "recall",
}

var specificDetailPhrases = []string{
	"exactly", "specifically", "in detail", "step by step",
	"the code", "the number", "the date", "the name",
	"show me", "give me", "tell me",
}

var temporalPhrases = []string{
	"yesterday", "today", "tomorrow", "last week", "last month",
	"earlier", "before", "previously", "in the past",
}

var technicalTerms = []string{"code", "function", "algorithm", "parameter", "variable"}

var clauseSplitter = regexp.MustCompile(`[,;&]`)

// HasPastReferencesInText implements §4.3 rule 1.
func HasPastReferencesInText(query string) bool {
	return containsAny(query, pastReferencePhrases)
}

// IsCrossSessionQuery implements §4.3 rule 2.
func IsCrossSessionQuery(query string) bool {
	return containsAny(query, crossSessionPhrases)
}

// RequiresSpecificDetails implements §4.3's requires_specific_details.
func RequiresSpecificDetails(query string) bool {
	return containsAny(query, specificDetailPhrases)
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// QueryComplexity implements §4.3's formula:
// min(1.0, len_words/100 + clauses/10 + 0.2*technical_term_present).
func QueryComplexity(query string) float64 {
	words := strings.Fields(query)
	clauses := len(clauseSplitter.Split(query, -1)) - 1
	technical := 0.0
	lower := strings.ToLower(query)
	for _, t := range technicalTerms {
		if strings.Contains(lower, t) {
			technical = 1.0
			break
		}
	}
	score := float64(len(words))/100.0 + float64(clauses)/10.0 + 0.2*technical
	return math.Min(1.0, score)
}

// estimateTokens applies the spec's crude len/4 heuristic.
func estimateTokens(content string) int {
	return len(content) / 4
}

func estimateTotalTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	return total
}

// BuildPlan implements the full §4.3 decision sequence.
func BuildPlan(in Input) Plan {
	hasPastRefs := HasPastReferencesInText(in.UserQuery) || in.HasPastRefs
	isCrossSession := IsCrossSessionQuery(in.UserQuery)

	var plan Plan
	if isCrossSession {
		plan.CrossSessionSearch = true
		plan.Topics = lastNWordsJoined(in.UserQuery, 4)
	}

	currentTokens := estimateTotalTokens(in.CurrentMessages)
	needsRetrieval := currentTokens > in.MaxContextTokens || hasPastRefs || isCrossSession
	plan.NeedsRetrieval = needsRetrieval
	plan.UseTier1 = true

	if !needsRetrieval {
		return plan
	}

	plan.UseTier2 = in.SessionHasSummaries

	requiresDetails := RequiresSpecificDetails(in.UserQuery)
	pastRefInRecent := lastNHasPastRef(in.CurrentMessages, 5)
	plan.UseTier3 = (hasPastRefs && in.SessionHasDBMessages) ||
		(requiresDetails && in.SessionHasDBMessages) ||
		isCrossSession ||
		(in.ConversationLength > 30 && in.SessionHasDBMessages) ||
		(pastRefInRecent && in.SessionHasDBMessages)

	if in.ConversationLength > 100 {
		plan.TargetCompression = 0.2
	} else {
		plan.TargetCompression = 0.3
	}

	complexity := QueryComplexity(in.UserQuery)
	plan.SemanticSearch = complexity > 0.5 || (len(plan.Topics) == 0 && !isCrossSession)
	plan.KeywordSearch = requiresDetails || hasPastRefs || isCrossSession || len(plan.Topics) > 0
	plan.TemporalSearch = containsAny(in.UserQuery, temporalPhrases)

	if len(plan.Topics) == 0 {
		plan.Topics = ExtractTopics(in.CurrentMessages)
	}

	available := in.MaxContextTokens - currentTokens
	plan.MaxMessages = clampInt(available/50, 10, 100)
	plan.MaxTokens = in.MaxContextTokens

	return plan
}

func lastNHasPastRef(msgs []Message, n int) bool {
	start := len(msgs) - n
	if start < 0 {
		start = 0
	}
	for _, m := range msgs[start:] {
		if HasPastReferencesInText(m.Content) {
			return true
		}
	}
	return false
}

func lastNWordsJoined(query string, n int) []string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil
	}
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return []string{strings.Join(words, " ")}
}

var aboutRegardingRe = regexp.MustCompile(`(?i)\b(?:about|regarding)\s+((?:\S+\s*){1,3})`)
var whQuestionRe = regexp.MustCompile(`(?i)\b(?:what|how|why|when|where|who)\s+((?:\S+\s*){1,4})`)

// ExtractTopics implements §4.3 rule 9: from the last 3 user messages,
// pick about|regarding-led phrases (up to 3 words) and wh-question-led
// phrases (up to 4 words); dedupe; cap at 3.
func ExtractTopics(msgs []Message) []string {
	var userMsgs []Message
	for _, m := range msgs {
		if m.Role == "user" {
			userMsgs = append(userMsgs, m)
		}
	}
	if len(userMsgs) > 3 {
		userMsgs = userMsgs[len(userMsgs)-3:]
	}

	var topics []string
	seen := map[string]bool{}
	add := func(s string) bool {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return false
		}
		seen[s] = true
		topics = append(topics, s)
		return len(topics) >= 3
	}

	for _, m := range userMsgs {
		for _, match := range aboutRegardingRe.FindAllStringSubmatch(m.Content, -1) {
			if add(match[1]) {
				return topics
			}
		}
		for _, match := range whQuestionRe.FindAllStringSubmatch(m.Content, -1) {
			if add(match[1]) {
				return topics
			}
		}
	}
	return topics
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
