package kvcache

import (
	"regexp"
	"sort"
)

// classificationPattern pairs an entry type with its detection regex,
// kept as an explicit ordered slice (not a map) so classification is
// deterministic — the source iterates a HashMap whose order is
// unspecified; see DESIGN.md's "classification pattern order" decision.
type classificationPattern struct {
	entryType EntryType
	pattern   *regexp.Regexp
}

var classificationPatterns = []classificationPattern{
	{TypeSystemPrompt, regexp.MustCompile(`(?i)(system|instruction|prompt|assistant_role|you are|your role)`)},
	{TypeCodeBlock, regexp.MustCompile("```|\\b(def|function|class|import|return|print|let|const|var)\\b|\\b(python|rust|javascript|java|c\\+\\+|go|sql)\\b")},
	{TypeImportantConcept, regexp.MustCompile(`(?i)\b(important|crucial|critical|essential|must|need|require|urgent|priority|key|main|primary)\b`)},
	{TypeQuestion, regexp.MustCompile(`(?i)\?$|^(what|how|why|when|where|who|explain|describe|can you|could you|would you|should you)`)},
	{TypeNumericData, regexp.MustCompile(`\b\d+(?:\.\d+)?%?\b|\b(date|time|age|year|month|day|hour|minute|second)\b`)},
}

// ExtractorConfig mirrors cache_extractor.rs's CacheExtractorConfig.
type ExtractorConfig struct {
	MinValueSize     int
	MaxValueSize     int
	ExtractKeywords  bool
	KeywordMinLength int
}

// DefaultExtractorConfig returns the source's Default impl.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{MinValueSize: 10, MaxValueSize: 10000, ExtractKeywords: true, KeywordMinLength: 3}
}

// Extractor classifies raw KVEntry records and extracts keywords from
// their key bytes.
type Extractor struct {
	config  ExtractorConfig
	custom  []classificationPattern
	scorer  KeywordExtractor
}

// KeywordExtractor is implemented by *Scorer; kept as an interface so
// the extractor and scorer stay decoupled the way the source's
// CacheEntryScorer trait does.
type KeywordExtractor interface {
	ExtractKeywords(keyData []byte) []string
}

// NewExtractor constructs an extractor bound to scorer for keyword
// extraction.
func NewExtractor(config ExtractorConfig, scorer KeywordExtractor) *Extractor {
	return &Extractor{config: config, scorer: scorer}
}

// AddCustomPattern registers an additional Custom(name) classification
// pattern, checked after the built-in ones.
func (e *Extractor) AddCustomPattern(name string, pattern *regexp.Regexp) {
	e.custom = append(e.custom, classificationPattern{CustomType(name), pattern})
}

// ExtractEntries classifies and filters entries by value-size bounds,
// returning them sorted by descending importance score.
func (e *Extractor) ExtractEntries(entries []KVEntry) []ExtractedCacheEntry {
	var out []ExtractedCacheEntry
	for _, entry := range entries {
		if len(entry.ValueData) < e.config.MinValueSize || len(entry.ValueData) > e.config.MaxValueSize {
			continue
		}

		entryType := e.classify(entry)
		var keywords []string
		if e.config.ExtractKeywords && e.scorer != nil {
			keywords = e.scorer.ExtractKeywords(entry.KeyData)
		}

		out = append(out, ExtractedCacheEntry{
			EntryType:       entryType,
			KeyHash:         entry.KeyHash,
			KeyData:         entry.KeyData,
			ValueData:       entry.ValueData,
			LayerIndex:      entry.LayerIndex,
			HeadIndex:       entry.HeadIndex,
			ImportanceScore: entry.ImportanceScore,
			AccessCount:     entry.AccessCount,
			Keywords:        keywords,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ImportanceScore > out[j].ImportanceScore })
	return out
}

func (e *Extractor) classify(entry KVEntry) EntryType {
	base := baseTypeFor(entry.KeyType)

	if entry.KeyData != nil {
		keyStr := string(entry.KeyData)
		for _, p := range classificationPatterns {
			if p.pattern.MatchString(keyStr) {
				return p.entryType
			}
		}
		for _, p := range e.custom {
			if p.pattern.MatchString(keyStr) {
				return p.entryType
			}
		}
	}
	return base
}

func baseTypeFor(keyType string) EntryType {
	switch keyType {
	case "attention_key":
		return TypeAttentionKey
	case "attention_value":
		return TypeAttentionValue
	case "ffn_key":
		return TypeFFNKey
	case "ffn_value":
		return TypeFFNValue
	default:
		return TypeAttentionKey
	}
}

// FilterPreservedEntries applies §4.8's Clear-step-2 preservation rule.
func (e *Extractor) FilterPreservedEntries(entries []ExtractedCacheEntry, minImportance float64, preserveSystem, preserveCode bool) []ExtractedCacheEntry {
	var out []ExtractedCacheEntry
	for _, entry := range entries {
		if entry.ImportanceScore < minImportance {
			continue
		}
		switch {
		case entry.EntryType == TypeSystemPrompt && preserveSystem:
			out = append(out, entry)
		case entry.EntryType == TypeCodeBlock && preserveCode:
			out = append(out, entry)
		case entry.EntryType == TypeImportantConcept:
			out = append(out, entry)
		case entry.EntryType == TypeAttentionKey || entry.EntryType == TypeAttentionValue:
			out = append(out, entry)
		case entry.ImportanceScore >= minImportance*1.2:
			out = append(out, entry)
		}
	}
	return out
}
