package store

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
)

const (
	DefaultStorageKey  = "omar_ai_sessions"
	DefaultMaxAttempts = 5
)

// Codec serializes the whole session list into one KVStore slot.
type Codec struct {
	kv          KVStore
	key         string
	maxAttempts int
}

type SaveResult struct {
	OK bool
	// Persisted is what ended up in the store. It differs from the input
	// when degrade steps were applied.
	Persisted []ChatSession
	Steps     []DegradeState
	Attempts  int
}

// Degraded reports whether the persisted list is a reduced form of the input.
func (r SaveResult) Degraded() bool {
	return r.OK && len(r.Steps) > 0
}

func NewCodec(kv KVStore, key string) *Codec {
	if key == "" {
		key = DefaultStorageKey
	}
	return &Codec{kv: kv, key: key, maxAttempts: DefaultMaxAttempts}
}

func (c *Codec) Key() string {
	return c.key
}

// Load never fails: missing or unreadable data yields an empty list.
func (c *Codec) Load(ctx context.Context) []ChatSession {
	raw, ok, err := c.kv.Get(ctx, c.key)
	if err != nil {
		log.Error("Failed to load sessions from storage", "key", c.key, "err", err)
		return []ChatSession{}
	}
	if !ok || raw == "" {
		return []ChatSession{}
	}

	var sessions []ChatSession
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		log.Warn("Stored sessions are corrupt, starting empty", "key", c.key, "err", err)
		return []ChatSession{}
	}
	if sessions == nil {
		sessions = []ChatSession{}
	}
	return sessions
}

// Save writes sessions, degrading the payload on capacity failures. Several
// degrade steps can run within one call.
func (c *Codec) Save(ctx context.Context, sessions []ChatSession) SaveResult {
	current := CloneSessions(sessions)
	result := SaveResult{}

	for result.Attempts < c.maxAttempts {
		payload, err := json.Marshal(current)
		if err != nil {
			log.Error("Failed to serialize sessions", "err", err)
			break
		}

		err = c.kv.Set(ctx, c.key, string(payload))
		result.Attempts++
		if err == nil {
			result.OK = true
			result.Persisted = current
			return result
		}

		if !IsQuotaExceeded(err) {
			log.Error("Unexpected storage error", "key", c.key, "err", err)
			break
		}
		if result.Attempts == c.maxAttempts {
			log.Warn("Storage quota exceeded on final attempt", "attempt", result.Attempts, "bytes", len(payload))
			break
		}

		step := NextDegradeState(current)
		log.Warn("Storage quota exceeded, cleaning up",
			"attempt", result.Attempts, "bytes", len(payload), "step", step)
		result.Steps = append(result.Steps, step)
		current = ApplyDegrade(step, current)
		if step == Exhausted {
			break
		}
	}

	if err := c.kv.Remove(ctx, c.key); err != nil {
		log.Debug("Failed to clear storage", "key", c.key, "err", err)
	}
	log.Error("Failed to recover storage after multiple attempts", "attempts", result.Attempts)
	return result
}
