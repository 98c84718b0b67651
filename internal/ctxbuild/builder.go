package ctxbuild

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	crossSessionHeader = "[Context from previous conversations]"
	crossSessionPrefix = "[From earlier: "
	summaryLongPrefix  = "[Summary of earlier conversation: "
	summaryShortPrefix = "[Earlier: "
	detailPrefix       = "[Earlier detail: "
)

// Build runs the full seven-step algorithm and returns the assembled
// message list, trimmed to Config.MaxTotalTokens.
func Build(in Input, cfg Config) []Message {
	var out []Message

	// Step 1: preserve system messages.
	if cfg.PreserveSystemMessages {
		for _, m := range in.CurrentMessages {
			if m.Role == "system" {
				out = append(out, m)
			}
		}
	}

	// Step 2: tier1 content, or the tail ratio of current messages.
	if in.Tier1Content != nil {
		out = append(out, nonSystem(in.Tier1Content)...)
	} else {
		nonSys := nonSystem(in.CurrentMessages)
		n := int(math.Ceil(float64(len(nonSys)) * cfg.MinCurrentContextRatio))
		if n < 1 {
			n = 1
		}
		if n > len(nonSys) {
			n = len(nonSys)
		}
		out = append(out, nonSys[len(nonSys)-n:]...)
	}

	// Step 3: cross-session bridge, inserted at the front repeatedly —
	// the resulting order is the reverse of the input slice, by design.
	if len(in.CrossSessionMessages) > 0 {
		take := in.CrossSessionMessages
		if len(take) > 3 {
			take = take[:3]
		}
		for _, m := range take {
			out = prepend(out, Message{Role: "system", Content: crossSessionPrefix + m.Content + "]"})
		}
		out = prepend(out, Message{Role: "system", Content: crossSessionHeader})
	}

	// Step 4: score and insert summaries.
	out = insertSummaries(out, in, cfg)

	// Step 5: detail injection.
	if cfg.EnableDetailInjection {
		out = injectDetails(out, in)
	}

	// Step 6: trim to budget, tail-first.
	out = trimToBudget(out, cfg.MaxTotalTokens)

	// Step 7: transition bridge.
	out = insertTransitionBridge(out)

	return out
}

func nonSystem(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Role != "system" {
			out = append(out, m)
		}
	}
	return out
}

func prepend(msgs []Message, m Message) []Message {
	return append([]Message{m}, msgs...)
}

type scoredSummary struct {
	Summary
	score float64
}

func insertSummaries(out []Message, in Input, cfg Config) []Message {
	convoTopics := conversationTopics(in.CurrentMessages)

	var scored []scoredSummary
	now := time.Now()
	for _, s := range in.Tier2Summaries {
		score := summaryScore(s, convoTopics, in.QueryTopics, now)
		if score < 0.3 {
			continue
		}
		scored = append(scored, scoredSummary{s, score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	budget := int(float64(cfg.MaxTotalTokens) * cfg.MaxSummaryRatio)
	used := 0
	shortForm := len(in.CurrentMessages) <= 5

	for _, s := range scored {
		tokens := estimateTokens(s.Text)
		if used+tokens > budget {
			continue
		}
		used += tokens

		prefix := summaryLongPrefix
		if shortForm {
			prefix = summaryShortPrefix
		}
		out = prepend(out, Message{Role: "system", Content: prefix + s.Text + "]"})
	}
	return out
}

func summaryScore(s Summary, convoTopics, queryTopics []string, now time.Time) float64 {
	topicOverlap := float64(overlapCount(s.Topics, convoTopics)) * 0.4
	queryOverlap := float64(overlapCount(s.Topics, queryTopics)) * 0.5

	ageHours := now.Sub(s.GeneratedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := (1.0 / (1.0 + ageHours/24.0)) * 0.3

	ratio := s.Ratio
	if ratio > 1 {
		ratio = 1
	}
	compression := ratio * 0.2

	return topicOverlap + queryOverlap + recency + compression
}

func overlapCount(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[strings.ToLower(t)] = true
	}
	count := 0
	for _, t := range a {
		if set[strings.ToLower(t)] {
			count++
		}
	}
	return count
}

func conversationTopics(msgs []Message) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range msgs {
		for _, w := range strings.Fields(strings.ToLower(m.Content)) {
			w = strings.Trim(w, ".,!?;:\"'()")
			if len(w) <= 3 || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

var detailTriggerWords = map[string]bool{
	"the": true, "that": true, "those": true, "specific": true, "exact": true,
}

// extractDetailRequests implements step 5's request-phrase extraction:
// each trigger word plus up to the next three tokens becomes a phrase.
func extractDetailRequests(query string) []string {
	words := strings.Fields(query)
	var phrases []string
	for i, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
		if !detailTriggerWords[clean] {
			continue
		}
		end := i + 4
		if end > len(words) {
			end = len(words)
		}
		phrase := strings.Join(words[i:end], " ")
		phrases = append(phrases, phrase)
	}
	return phrases
}

func injectDetails(out []Message, in Input) []Message {
	if in.UserQuery == "" {
		return out
	}
	phrases := extractDetailRequests(in.UserQuery)
	if len(phrases) == 0 {
		return out
	}

	var details []Message
	for _, phrase := range phrases {
		lp := strings.ToLower(phrase)
		for _, m := range in.Tier3Messages {
			if strings.Contains(strings.ToLower(m.Content), lp) {
				details = append(details, Message{Role: "system", Content: detailPrefix + m.Content + "]"})
				if len(details) >= 3 {
					break
				}
			}
		}
		if len(details) >= 3 {
			break
		}
	}
	if len(details) == 0 {
		return out
	}

	lastUser := -1
	for i, m := range out {
		if m.Role == "user" {
			lastUser = i
		}
	}
	if lastUser == -1 {
		return append(out, details...)
	}

	result := make([]Message, 0, len(out)+len(details))
	result = append(result, out[:lastUser]...)
	result = append(result, details...)
	result = append(result, out[lastUser:]...)
	return result
}

func trimToBudget(msgs []Message, maxTokens int) []Message {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	for total > maxTokens && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		total -= estimateTokens(last.Content)
		msgs = msgs[:len(msgs)-1]
	}
	return msgs
}

func insertTransitionBridge(msgs []Message) []Message {
	firstLive := -1
	summaryCount := 0
	for i, m := range msgs {
		if m.Role != "system" {
			firstLive = i
			break
		}
		if strings.HasPrefix(m.Content, summaryLongPrefix) || strings.HasPrefix(m.Content, summaryShortPrefix) {
			summaryCount++
		}
	}
	if firstLive == -1 || summaryCount == 0 {
		return msgs
	}

	noun := "summary"
	if summaryCount != 1 {
		noun = "summaries"
	}
	bridge := Message{
		Role:    "system",
		Content: fmt.Sprintf("[Continuing from earlier conversation with %d %s]", summaryCount, noun),
	}

	result := make([]Message, 0, len(msgs)+1)
	result = append(result, msgs[:firstLive]...)
	result = append(result, bridge)
	result = append(result, msgs[firstLive:]...)
	return result
}
