// Package audit provides a tamper-evident request log: each entry's hash
// covers the previous entry's hash, so any rewrite of history breaks the
// chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is one link in the audit chain.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger appends entries to a hash chain. Safe for concurrent use.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	entries      []*LogEntry
}

// NewChainLogger starts a chain anchored at the zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{previousHash: strings.Repeat("0", 64)}
}

// Append records payload as the next link and returns the entry.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)

	c.previousHash = entry.Hash
	c.entries = append(c.entries, entry)
	return entry
}

// Entries returns a snapshot of the chain so far.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// VerifyChain reports whether entries form an unbroken, untampered chain.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return false
		}
		if entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}

func entryHash(prev, ts, payload string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", prev, ts, payload)))
	return hex.EncodeToString(sum[:])
}
