package sharedstate

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// AtomicCounters holds the engine's lock-free performance counters.
type AtomicCounters struct {
	TotalRequests     atomic.Int64
	ActiveSessions    atomic.Int64
	ProcessedMessages atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
}

func (c *AtomicCounters) IncTotalRequests() int64     { return c.TotalRequests.Add(1) }
func (c *AtomicCounters) IncProcessedMessages() int64 { return c.ProcessedMessages.Add(1) }
func (c *AtomicCounters) IncCacheHit() int64           { return c.CacheHits.Add(1) }
func (c *AtomicCounters) IncCacheMiss() int64           { return c.CacheMisses.Add(1) }

const shardCount = 16

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*SessionData
	queues   map[string]chan PendingMessage
}

// ConversationHierarchy is a sharded analogue of the original's
// DashMap<session_id, Arc<RwLock<SessionData>>>: readers against
// different shards never contend, and most real deployments spread
// sessions across shards evenly by hash.
type ConversationHierarchy struct {
	shards   [shardCount]*sessionShard
	counters *AtomicCounters
}

func NewConversationHierarchy(counters *AtomicCounters) *ConversationHierarchy {
	h := &ConversationHierarchy{counters: counters}
	for i := range h.shards {
		h.shards[i] = &sessionShard{
			sessions: make(map[string]*SessionData),
			queues:   make(map[string]chan PendingMessage),
		}
	}
	return h
}

func (h *ConversationHierarchy) shardFor(sessionID string) *sessionShard {
	hh := fnv.New32a()
	_, _ = hh.Write([]byte(sessionID))
	return h.shards[hh.Sum32()%shardCount]
}

// GetOrCreateSession returns the session's live state, creating it on
// first access (§4.4 step 2's "get_or_create_session").
func (h *ConversationHierarchy) GetOrCreateSession(sessionID string) *SessionData {
	shard := h.shardFor(sessionID)

	shard.mu.RLock()
	if sess, ok := shard.sessions[sessionID]; ok {
		shard.mu.RUnlock()
		return sess
	}
	shard.mu.RUnlock()

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if sess, ok := shard.sessions[sessionID]; ok {
		return sess
	}
	sess := &SessionData{SessionID: sessionID, LastAccessed: time.Now()}
	shard.sessions[sessionID] = sess
	h.counters.ActiveSessions.Add(1)
	return sess
}

// ReplaceMessages sets a session's live message list and bumps
// last_accessed, under the session's own guard — callers must not race
// concurrent mutation of the same *SessionData from outside this
// package's lock, so this method takes the shard lock for the
// duration of the mutation rather than exposing the struct for direct
// writes.
func (h *ConversationHierarchy) ReplaceMessages(sessionID string, msgs []ChatMessage) {
	shard := h.shardFor(sessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	sess, ok := shard.sessions[sessionID]
	if !ok {
		sess = &SessionData{SessionID: sessionID}
		shard.sessions[sessionID] = sess
		h.counters.ActiveSessions.Add(1)
	}
	sess.Messages = msgs
	sess.LastAccessed = time.Now()
}

// QueueMessage pushes a message onto the session's bounded queue,
// returning false on overflow (§5 backpressure rule) — the idiomatic
// Go translation of ArrayQueue::push's non-blocking Result, using a
// buffered channel's non-blocking select.
func (h *ConversationHierarchy) QueueMessage(sessionID string, msg ChatMessage) bool {
	shard := h.shardFor(sessionID)

	shard.mu.Lock()
	q, ok := shard.queues[sessionID]
	if !ok {
		q = make(chan PendingMessage, pendingQueueCapacity)
		shard.queues[sessionID] = q
	}
	shard.mu.Unlock()

	select {
	case q <- PendingMessage{Message: msg, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// DrainQueuedMessages pops every currently queued message for a session.
func (h *ConversationHierarchy) DrainQueuedMessages(sessionID string) []PendingMessage {
	shard := h.shardFor(sessionID)
	shard.mu.RLock()
	q, ok := shard.queues[sessionID]
	shard.mu.RUnlock()
	if !ok {
		return nil
	}

	var out []PendingMessage
	for {
		select {
		case m := <-q:
			out = append(out, m)
		default:
			return out
		}
	}
}
