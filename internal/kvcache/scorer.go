package kvcache

import (
	"regexp"
	"strings"
	"sync"
)

// keyPattern pairs a scoring pattern name with its regex and weight,
// kept ordered for the same determinism reason as extractor.go's
// classificationPatterns.
type keyPattern struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

var scoringPatterns = []keyPattern{
	{"system_prompt", 0.8, regexp.MustCompile(`system|instruction|prompt|assistant_role`)},
	{"code_related", 0.7, regexp.MustCompile("def |function |class |import |return |print |code|program|algorithm|python|rust|javascript|java|c\\+\\+|sql|```")},
	{"important_concept", 0.9, regexp.MustCompile(`important|critical|crucial|essential|must|need|require|urgent|asap|priority|key|main|primary`)},
	{"question", 0.6, regexp.MustCompile(`what|how|why|when|where|who|explain|describe|can you|could you|would you|should`)},
	{"numeric", 0.5, regexp.MustCompile(`\d+|date|time|age|year|month|day|hour|minute|second`)},
}

// scorerStopWords is the 44-word stopword list cache_scorer.rs ships —
// deliberately kept distinct from tiering's 33-word list (see DESIGN.md
// decision 1). The manager has no list of its own: extractQueryKeywords
// reuses the Scorer.
var scorerStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "am": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"shall": true, "should": true, "may": true, "might": true, "must": true,
	"can": true, "could": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "it's": true,
}

// ScoringConfig mirrors cache_scorer.rs's CacheScoringConfig.
type ScoringConfig struct {
	RecencyWeight     float64
	AccessCountWeight float64
	KeyPatternWeight  float64
	LayerWeight       float64
	HeadWeight        float64
	ValueSizeWeight   float64
	EngagementDecay   float64
	MinEngagement     float64
	MaxEngagement     float64
}

// DefaultScoringConfig returns the source's Default impl (§4.8's table).
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RecencyWeight:     0.3,
		AccessCountWeight: 0.2,
		KeyPatternWeight:  0.25,
		LayerWeight:       0.1,
		HeadWeight:        0.05,
		ValueSizeWeight:   0.1,
		EngagementDecay:   0.95,
		MinEngagement:     0.1,
		MaxEngagement:     1.0,
	}
}

// EntryParams bundles a scoring call's inputs (cache_scorer.rs's
// CacheEntryParams).
type EntryParams struct {
	KeyHash             string
	KeyData             []byte
	KeyType             string
	LayerIndex          int
	HeadIndex           *int
	AccessCount         int
	LastAccessedSecondsAgo float64
	ValueSizeBytes      int
}

// Scorer computes entry importance and tracks per-key engagement.
type Scorer struct {
	mu         sync.Mutex
	engagement map[string]float64
	config     ScoringConfig
}

// NewScorer constructs a scorer with the given config.
func NewScorer(config ScoringConfig) *Scorer {
	return &Scorer{engagement: make(map[string]float64), config: config}
}

// ScoreEntry implements §4.8's weighted-sum scoring table, clipped to [0,1].
func (s *Scorer) ScoreEntry(p EntryParams) float64 {
	score := s.scoreRecency(p.LastAccessedSecondsAgo) +
		s.scoreAccessCount(p.AccessCount) +
		s.scoreKeyPatterns(p.KeyData, p.KeyType) +
		s.scoreLayerPosition(p.LayerIndex) +
		s.scoreHeadPosition(p.HeadIndex) +
		s.scoreValueSize(p.ValueSizeBytes) +
		s.scoreKeyEngagement(p.KeyHash)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (s *Scorer) scoreRecency(secondsAgo float64) float64 {
	return (1.0 / (1.0 + secondsAgo/3600.0)) * s.config.RecencyWeight
}

func (s *Scorer) scoreAccessCount(count int) float64 {
	normalized := float64(count)
	if normalized > 100 {
		normalized = 100
	}
	return (normalized / 100.0) * s.config.AccessCountWeight
}

func (s *Scorer) scoreKeyPatterns(keyData []byte, keyType string) float64 {
	var patternScore float64
	switch keyType {
	case "attention_key", "attention_value":
		patternScore += 0.1
	case "ffn_key", "ffn_value":
		patternScore += 0.05
	}

	if keyData != nil {
		keyStr := string(keyData)
		for _, p := range scoringPatterns {
			if p.re.MatchString(keyStr) {
				patternScore += p.weight
			}
		}
	}
	if patternScore > 1.0 {
		patternScore = 1.0
	}
	return patternScore * s.config.KeyPatternWeight
}

func (s *Scorer) scoreLayerPosition(layerIndex int) float64 {
	var factor float64
	switch {
	case layerIndex < 10:
		factor = 0.9
	case layerIndex < 20:
		factor = 0.7
	default:
		factor = 0.5
	}
	return factor * s.config.LayerWeight
}

func (s *Scorer) scoreHeadPosition(headIndex *int) float64 {
	if headIndex == nil {
		return 0
	}
	factor := 0.5
	if *headIndex < 4 {
		factor = 0.8
	}
	return factor * s.config.HeadWeight
}

func (s *Scorer) scoreValueSize(sizeBytes int) float64 {
	size := float64(sizeBytes)
	if size > 10000 {
		size = 10000
	}
	return (size / 10000.0) * s.config.ValueSizeWeight
}

func (s *Scorer) scoreKeyEngagement(keyHash string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engagement[keyHash] * 0.3
}

// UpdateEngagement bumps keyHash's engagement (+0.15 if retrieved,
// +0.05 if merely stored), then decays every other key by ×0.95,
// floored at MinEngagement.
func (s *Scorer) UpdateEngagement(keyHash string, wasRetrieved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	increase := 0.05
	if wasRetrieved {
		increase = 0.15
	}

	current, ok := s.engagement[keyHash]
	if !ok {
		current = 0.3
	}
	current += increase
	if current > s.config.MaxEngagement {
		current = s.config.MaxEngagement
	}
	if current < s.config.MinEngagement {
		current = s.config.MinEngagement
	}
	s.engagement[keyHash] = current

	for k, v := range s.engagement {
		if k == keyHash {
			continue
		}
		decayed := v * s.config.EngagementDecay
		if decayed < s.config.MinEngagement {
			decayed = s.config.MinEngagement
		}
		s.engagement[k] = decayed
	}
}

// ShouldPreserveEntry mirrors the source's should_preserve_entry helper.
func (s *Scorer) ShouldPreserveEntry(importanceScore float64, keyType string, layerIndex int, configThreshold float64) bool {
	basePreservation := 0.5
	switch keyType {
	case "attention_key", "attention_value":
		basePreservation = 0.8
	case "ffn_key", "ffn_value":
		basePreservation = 0.6
	}

	layerFactor := 1.0
	if layerIndex < 8 {
		layerFactor = 1.2
	}
	combined := importanceScore * layerFactor

	return combined >= configThreshold || basePreservation >= 0.7
}

// ExtractKeywords implements cache_scorer.rs's extract_keywords: split
// key_data on whitespace, keep words longer than 3 chars that aren't
// stopwords, dedupe adjacent repeats, cap at 5.
func (s *Scorer) ExtractKeywords(keyData []byte) []string {
	if keyData == nil {
		return nil
	}
	words := strings.Fields(string(keyData))
	var out []string
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		lower := strings.ToLower(w)
		if scorerStopWords[lower] {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == lower {
			continue
		}
		out = append(out, lower)
		if len(out) >= 5 {
			break
		}
	}
	return out
}
