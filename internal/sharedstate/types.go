// Package sharedstate implements the engine's in-memory shared state
// (§5): a sharded session table, bounded per-session pending-message
// queues, and lock-free atomic counters. Grounded directly on
// original_source/src/shared_state.rs's SharedSystemState /
// ConversationHierarchy / AtomicCounters, translated from DashMap +
// crossbeam_queue::ArrayQueue to Go's sync primitives — no Go port of
// either crate appears anywhere in the retrieved example pack.
package sharedstate

import "time"

// ChatMessage is the minimal message shape the shared session table
// holds — role + content, matching what every turn carries before it
// is persisted or enriched.
type ChatMessage struct {
	Role    string
	Content string
}

// SessionData is a single session's live in-memory state.
type SessionData struct {
	SessionID    string
	Messages     []ChatMessage
	LastAccessed time.Time
	Pinned       bool
}

// PendingMessage is a message queued for asynchronous processing.
type PendingMessage struct {
	Message   ChatMessage
	Timestamp time.Time
}

// pendingQueueCapacity is the bounded per-session queue size (§3, §5).
const pendingQueueCapacity = 1000
