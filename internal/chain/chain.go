// Package chain implements the tamper-evident, append-only audit chain.
//
// Each block hashes its own fields together with the previous block's hash,
// so mutating any stored field downstream of a block breaks verification
// for every block after it. The chain is a single-writer resource: callers
// serialize access through the same *Chain instance, which guards its block
// slice with a mutex.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/errs"
)

// GenesisHash is the fixed previous_hash of the genesis block: 64 hex zeros.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is a single immutable entry in the chain.
type Block struct {
	Index        int            `json:"index"`
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	SessionID    string         `json:"session_id"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	Resource     *string        `json:"resource"`
	Data         map[string]any `json:"data"`
	PreviousHash string         `json:"previous_hash"`
	CurrentHash  string         `json:"current_hash"`
}

func (b Block) computeHash() string {
	content := map[string]any{
		"index":         b.Index,
		"event_id":      b.EventID,
		"timestamp":     b.Timestamp.UTC().Format(time.RFC3339Nano),
		"event_type":    b.EventType,
		"session_id":    b.SessionID,
		"actor":         b.Actor,
		"action":        b.Action,
		"resource":      b.Resource,
		"data":          b.Data,
		"previous_hash": b.PreviousHash,
	}
	// encoding/json sorts map keys alphabetically, giving the same stable
	// key ordering the canonical hash content requires.
	raw, err := json.Marshal(content)
	if err != nil {
		// content is built entirely from this package's own types; a
		// marshal failure here means a caller smuggled an unmarshalable
		// value into block Data, which is a programmer error.
		panic(fmt.Sprintf("chain: block content not marshalable: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the block's stored hash matches its recomputed hash.
func (b Block) Verify() bool {
	return b.CurrentHash == b.computeHash()
}

// persistedChain is the on-disk/exported representation of a chain.
type persistedChain struct {
	Version    string  `json:"version"`
	BlockCount int     `json:"block_count"`
	RootHash   string  `json:"root_hash"`
	Blocks     []Block `json:"blocks"`
}

// Chain is an append-only, hash-linked audit log.
type Chain struct {
	mu          sync.Mutex
	blocks      []Block
	logger      *zap.Logger
	persistPath string
	autoPersist bool
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithPersistence enables loading from, and optionally auto-writing to, a
// JSON file on disk after every Add.
func WithPersistence(path string, autoPersist bool) Option {
	return func(c *Chain) {
		c.persistPath = path
		c.autoPersist = autoPersist
	}
}

// New creates a chain with a deterministic genesis block and applies any
// load-from-disk option. Returns ErrIntegrity if a loaded chain fails
// verification.
func New(logger *zap.Logger, opts ...Option) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{logger: logger.Named("chain")}
	for _, opt := range opts {
		opt(c)
	}

	if c.persistPath != "" {
		if info, err := os.Stat(c.persistPath); err == nil && info.Size() > 0 {
			if err := c.loadFromDisk(); err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	c.appendGenesis()
	return c, nil
}

func (c *Chain) appendGenesis() {
	resource := (*string)(nil)
	genesis := Block{
		Index:        0,
		EventID:      "genesis",
		Timestamp:    time.Now().UTC(),
		EventType:    "system_initialized",
		SessionID:    "system",
		Actor:        "system",
		Action:       "chain_initialized",
		Resource:     resource,
		Data:         map[string]any{"version": "1.0"},
		PreviousHash: GenesisHash,
	}
	genesis.CurrentHash = genesis.computeHash()
	c.blocks = append(c.blocks, genesis)
}

// Add appends a new block built from data. data must include "event_type";
// "session_id", "actor", and "action" default to "unknown" when absent.
// Remaining keys flow into the block's Data map. Returns the new block's hash.
func (c *Chain) Add(data map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventType, _ := data["event_type"].(string)
	if eventType == "" {
		return "", fmt.Errorf("%w: event_type is required in block data", errs.ErrValidation)
	}

	sessionID := stringOr(data["session_id"], "unknown")
	actor := stringOr(data["actor"], "unknown")
	action := stringOr(data["action"], "unknown")

	var resource *string
	if r, ok := data["resource"]; ok && r != nil {
		if rs, ok := r.(string); ok {
			resource = &rs
		}
	}

	rest := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "event_type", "session_id", "actor", "action", "resource":
			continue
		default:
			rest[k] = v
		}
	}

	prev := c.blocks[len(c.blocks)-1].CurrentHash
	block := Block{
		Index:        len(c.blocks),
		EventID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		SessionID:    sessionID,
		Actor:        actor,
		Action:       action,
		Resource:     resource,
		Data:         rest,
		PreviousHash: prev,
	}
	block.CurrentHash = block.computeHash()
	c.blocks = append(c.blocks, block)

	if c.autoPersist && c.persistPath != "" {
		if err := c.persistLocked(); err != nil {
			c.logger.Warn("auto-persist failed", zap.Error(err))
		}
	}

	return block.CurrentHash, nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// VerifyIntegrity recomputes every block's hash and linkage. Returns false
// on the first mismatch, on an empty chain, or if the genesis previous_hash
// is wrong.
func (c *Chain) VerifyIntegrity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		return false
	}
	if c.blocks[0].PreviousHash != GenesisHash {
		return false
	}
	for i, b := range c.blocks {
		if !b.Verify() {
			return false
		}
		if i > 0 && b.PreviousHash != c.blocks[i-1].CurrentHash {
			return false
		}
	}
	return true
}

// RootHash returns the most recent block's hash, or GenesisHash if empty.
func (c *Chain) RootHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return GenesisHash
	}
	return c.blocks[len(c.blocks)-1].CurrentHash
}

// BlockCount returns the number of blocks, including genesis.
func (c *Chain) BlockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// GetBlock returns the block at index, if present.
func (c *Chain) GetBlock(index int) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.blocks) {
		return Block{}, false
	}
	return c.blocks[index], true
}

// GetBlocksBySession returns every block recorded under a session id.
func (c *Chain) GetBlocksBySession(sessionID string) []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Block
	for _, b := range c.blocks {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	return out
}

// GetBlocksByEventType returns every block of a given event_type.
func (c *Chain) GetBlocksByEventType(eventType string) []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Block
	for _, b := range c.blocks {
		if b.EventType == eventType {
			out = append(out, b)
		}
	}
	return out
}

// GetBlocksInRange returns blocks with timestamps in [start, end].
func (c *Chain) GetBlocksInRange(start, end time.Time) []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Block
	for _, b := range c.blocks {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}

// Export returns the chain as an ordered slice of blocks.
func (c *Chain) Export() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// ExportAuditEvents returns every block except genesis, for compliance export.
func (c *Chain) ExportAuditEvents() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) <= 1 {
		return nil
	}
	out := make([]Block, len(c.blocks)-1)
	copy(out, c.blocks[1:])
	return out
}

// Persist writes the full chain to disk at the configured persistence path.
func (c *Chain) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

func (c *Chain) persistLocked() error {
	if c.persistPath == "" {
		return nil
	}
	if dir := filepath.Dir(c.persistPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("chain: creating persistence dir: %w", err)
		}
	}
	pc := persistedChain{
		Version:    "1.0",
		BlockCount: len(c.blocks),
		RootHash:   c.blocks[len(c.blocks)-1].CurrentHash,
		Blocks:     c.blocks,
	}
	raw, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return fmt.Errorf("chain: marshaling for persistence: %w", err)
	}
	return os.WriteFile(c.persistPath, raw, 0o644)
}

func (c *Chain) loadFromDisk() error {
	raw, err := os.ReadFile(c.persistPath)
	if err != nil {
		return fmt.Errorf("chain: reading persisted chain: %w", err)
	}
	var pc persistedChain
	if err := json.Unmarshal(raw, &pc); err != nil {
		return fmt.Errorf("chain: parsing persisted chain: %w", err)
	}
	c.blocks = pc.Blocks
	if !c.verifyIntegrityLocked() {
		return fmt.Errorf("%w: chain at %s failed verification on load", errs.ErrIntegrity, c.persistPath)
	}
	return nil
}

func (c *Chain) verifyIntegrityLocked() bool {
	if len(c.blocks) == 0 {
		return false
	}
	if c.blocks[0].PreviousHash != GenesisHash {
		return false
	}
	for i, b := range c.blocks {
		if !b.Verify() {
			return false
		}
		if i > 0 && b.PreviousHash != c.blocks[i-1].CurrentHash {
			return false
		}
	}
	return true
}
