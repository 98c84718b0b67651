// Package store implements the engine's persistent store (§4.1): an
// embedded single-file SQLite database with a forward-only migration
// ladder, pooled connections, and per-entity CRUD/search operations.
package store

import "time"

// Session corresponds to §3's Session record.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastAccessed time.Time
	Title        string
	Tags         []string
	Pinned       bool
	Metadata     map[string]string
}

// Message corresponds to §3's Message record.
type Message struct {
	ID                int64
	SessionID         string
	MessageIndex      int
	Role              string
	Content           string
	TokenCount        int
	Timestamp         time.Time
	Importance        float64
	EmbeddingGenerated bool
}

// Summary corresponds to §3's Summary record. Range is half-open [Start,End).
type Summary struct {
	ID         int64
	SessionID  string
	Start      int
	End        int
	Text       string
	Ratio      float64
	Topics     []string
	GeneratedAt time.Time
}

// Detail corresponds to §3's Detail record.
type Detail struct {
	ID           int64
	MessageID    int64
	TypeTag      string
	Content      string
	Context      string
	Importance   float64
	AccessCount  int
	LastAccessed time.Time
}

// Embedding corresponds to §3's Embedding record.
type Embedding struct {
	ID          int64
	MessageID   int64
	Vector      []float32
	Model       string
	GeneratedAt time.Time
}

// KVSnapshot corresponds to §3's KV Snapshot record.
type KVSnapshot struct {
	ID           int64
	SessionID    string
	MessageIndex int
	ContentHash  string
	SizeBytes    int
	SnapshotType string
	CreatedAt    time.Time
	Entries      []KVCacheEntry
}

// KVCacheEntry corresponds to §3's KV Cache Entry record.
type KVCacheEntry struct {
	ID           int64
	SnapshotID   int64
	KeyHash      string
	KeyBytes     []byte
	ValueBytes   []byte
	KeyType      string
	LayerIndex   int
	HeadIndex    *int
	Importance   float64
	AccessCount  int
	LastAccessed time.Time
}

// EmbeddingStats is §4.7's get_stats() result.
type EmbeddingStats struct {
	Total     int
	Dimension int
	IndexKind string // "HNSW" | "Linear"
}
