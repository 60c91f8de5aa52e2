package chain_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/chain"
)

func TestNewChainHasGenesisBlock(t *testing.T) {
	c, err := chain.New(zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BlockCount() != 1 {
		t.Fatalf("expected 1 block, got %d", c.BlockCount())
	}
	genesis, ok := c.GetBlock(0)
	if !ok {
		t.Fatal("genesis block missing")
	}
	if genesis.PreviousHash != chain.GenesisHash {
		t.Errorf("genesis previous_hash = %q, want %q", genesis.PreviousHash, chain.GenesisHash)
	}
	if !genesis.Verify() {
		t.Error("genesis block fails self-verification")
	}
}

func TestAddRequiresEventType(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	if _, err := c.Add(map[string]any{"actor": "advisor:1"}); err == nil {
		t.Fatal("expected error for missing event_type")
	}
}

func TestAddDefaultsAndLinkage(t *testing.T) {
	c, _ := chain.New(zap.NewNop())

	hash1, err := c.Add(map[string]any{"event_type": "session_created"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	block1, _ := c.GetBlock(1)
	if block1.SessionID != "unknown" || block1.Actor != "unknown" || block1.Action != "unknown" {
		t.Errorf("expected defaulted fields, got %+v", block1)
	}
	if block1.CurrentHash != hash1 {
		t.Errorf("returned hash %q does not match stored hash %q", hash1, block1.CurrentHash)
	}

	hash2, err := c.Add(map[string]any{
		"event_type": "recommendation_approved",
		"session_id": "advisor:abc123",
		"actor":      "advisor:abc123",
		"action":     "approve",
		"amount":     42,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	block2, _ := c.GetBlock(2)
	if block2.PreviousHash != hash1 {
		t.Errorf("block 2 previous_hash = %q, want %q", block2.PreviousHash, hash1)
	}
	if block2.CurrentHash != hash2 {
		t.Error("returned hash does not match stored hash")
	}
	if block2.Data["amount"] != 42 {
		t.Errorf("expected amount=42 in block data, got %+v", block2.Data)
	}

	if !c.VerifyIntegrity() {
		t.Error("chain should verify after valid appends")
	}
}

func TestLoadDetectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.json")

	c, err := chain.New(zap.NewNop(), chain.WithPersistence(path, true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Add(map[string]any{"event_type": "session_created", "actor": "advisor:1"})
	c.Add(map[string]any{"event_type": "drift_detected", "actor": "agent:drift"})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}
	tampered := bytes.Replace(raw, []byte("drift_detected"), []byte("drift_hidden!!"), 1)
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatalf("writing tampered file: %v", err)
	}

	if _, err := chain.New(zap.NewNop(), chain.WithPersistence(path, false)); err == nil {
		t.Error("expected loading a tampered chain file to fail integrity verification")
	}
}

func TestGetBlocksBySessionAndEventType(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	c.Add(map[string]any{"event_type": "session_created", "session_id": "advisor:1"})
	c.Add(map[string]any{"event_type": "drift_detected", "session_id": "advisor:1"})
	c.Add(map[string]any{"event_type": "drift_detected", "session_id": "advisor:2"})

	bySession := c.GetBlocksBySession("advisor:1")
	if len(bySession) != 2 {
		t.Errorf("expected 2 blocks for advisor:1, got %d", len(bySession))
	}

	byType := c.GetBlocksByEventType("drift_detected")
	if len(byType) != 2 {
		t.Errorf("expected 2 drift_detected blocks, got %d", len(byType))
	}
}

func TestGetBlocksInRange(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	before := time.Now().UTC()
	c.Add(map[string]any{"event_type": "session_created"})
	after := time.Now().UTC().Add(time.Second)

	inRange := c.GetBlocksInRange(before, after)
	if len(inRange) == 0 {
		t.Error("expected at least the block just added to be in range")
	}
}

func TestExportAuditEventsSkipsGenesis(t *testing.T) {
	c, _ := chain.New(zap.NewNop())
	c.Add(map[string]any{"event_type": "session_created"})
	c.Add(map[string]any{"event_type": "session_terminated"})

	events := c.ExportAuditEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	for _, b := range events {
		if b.EventType == "system_initialized" {
			t.Error("genesis block leaked into audit export")
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.json")

	c1, err := chain.New(zap.NewNop(), chain.WithPersistence(path, true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c1.Add(map[string]any{"event_type": "session_created", "session_id": "advisor:1"})
	c1.Add(map[string]any{"event_type": "recommendation_approved", "session_id": "advisor:1"})

	c2, err := chain.New(zap.NewNop(), chain.WithPersistence(path, false))
	if err != nil {
		t.Fatalf("loading persisted chain: %v", err)
	}
	if c2.BlockCount() != c1.BlockCount() {
		t.Errorf("loaded chain has %d blocks, want %d", c2.BlockCount(), c1.BlockCount())
	}
	if !c2.VerifyIntegrity() {
		t.Error("loaded chain should verify")
	}
	if c2.RootHash() != c1.RootHash() {
		t.Error("loaded chain root hash mismatch")
	}
}
