// Package cache holds computed compatibility scores. Scores are
// derived data: the cache is never a source of truth, and entries are
// keyed by a hash of both profiles so a schedule edit naturally misses.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/campus-parking/internal/models"
	"github.com/example/campus-parking/internal/scoring"
)

// ScoreCache stores scores under content-derived keys with a TTL, and
// supports dropping every entry touching one user when their schedule
// or preferences change.
type ScoreCache interface {
	Get(key string) (scoring.Score, bool)
	Set(key string, users []string, s scoring.Score)
	InvalidateUser(userID string)
}

// Key derives the cache key from the exact inputs of a scoring run:
// identical inputs, identical key.
func Key(kind scoring.Kind, profiles ...models.ScheduleProfile) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range profiles {
		b, _ := json.Marshal(p)
		h.Write(b)
	}
	return "score:" + hex.EncodeToString(h.Sum(nil))
}

type memEntry struct {
	score scoring.Score
	ts    time.Time
}

// Memory is the in-process implementation used when Redis is not
// configured, and in tests.
type Memory struct {
	mu     sync.RWMutex
	store  map[string]memEntry
	byUser map[string][]string
	ttl    time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		store:  make(map[string]memEntry),
		byUser: make(map[string][]string),
		ttl:    ttl,
	}
}

func (m *Memory) Get(key string) (scoring.Score, bool) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if !ok {
		return scoring.Score{}, false
	}
	if time.Since(e.ts) > m.ttl {
		m.mu.Lock()
		delete(m.store, key)
		m.mu.Unlock()
		return scoring.Score{}, false
	}
	return e.score, true
}

func (m *Memory) Set(key string, users []string, s scoring.Score) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = memEntry{score: s, ts: time.Now()}
	for _, u := range users {
		m.byUser[u] = append(m.byUser[u], key)
	}
}

func (m *Memory) InvalidateUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.byUser[userID] {
		delete(m.store, k)
	}
	delete(m.byUser, userID)
}
