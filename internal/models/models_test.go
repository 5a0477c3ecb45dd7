package models

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSymbolSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		symbols []Symbol
		wantErr bool
	}{
		{"default table", DefaultSymbolSet().Symbols, false},
		{"single symbol", []Symbol{{Name: "cherry", Rarity: 1.0, Payout3x: 150}}, false},
		{"within tolerance", []Symbol{{Name: "a", Rarity: 0.5, Payout3x: 100}, {Name: "b", Rarity: 0.505, Payout3x: 100}}, false},
		{"empty table", nil, true},
		{"weights too low", []Symbol{{Name: "a", Rarity: 0.5, Payout3x: 100}}, true},
		{"weights too high", []Symbol{{Name: "a", Rarity: 0.7, Payout3x: 100}, {Name: "b", Rarity: 0.7, Payout3x: 100}}, true},
		{"zero rarity", []Symbol{{Name: "a", Rarity: 0, Payout3x: 100}, {Name: "b", Rarity: 1.0, Payout3x: 100}}, true},
		{"negative payout", []Symbol{{Name: "a", Rarity: 1.0, Payout3x: -1}}, true},
		{"unnamed symbol", []Symbol{{Name: "", Rarity: 1.0, Payout3x: 100}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &SymbolSet{Symbols: tt.symbols}
			err := set.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validation errors should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSymbolSetRTP(t *testing.T) {
	set := &SymbolSet{Symbols: []Symbol{{Name: "cherry", Rarity: 1.0, Payout3x: 150}}}
	if rtp := set.RTP(100); math.Abs(rtp-1.5) > 0.0001 {
		t.Errorf("Expected RTP 1.5, got %.4f", rtp)
	}
	if rtp := set.RTP(0); rtp != 0 {
		t.Errorf("Zero bet should yield zero RTP, got %.4f", rtp)
	}
}

func TestLoadSymbolSet(t *testing.T) {
	set, err := LoadSymbolSet("")
	if err != nil {
		t.Fatalf("Empty path should fall back to defaults: %v", err)
	}
	if len(set.Symbols) == 0 {
		t.Fatal("Default table should not be empty")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.json")
	if err := os.WriteFile(path, []byte(`{"symbols":[{"name":"cherry","rarity":1.0,"payout_3x":150}]}`), 0644); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}
	set, err = LoadSymbolSet(path)
	if err != nil {
		t.Fatalf("Failed to load table: %v", err)
	}
	if len(set.Symbols) != 1 || set.Symbols[0].Name != "cherry" {
		t.Errorf("Loaded table wrong: %+v", set.Symbols)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"symbols":[{"name":"a","rarity":0.2,"payout_3x":100}]}`), 0644); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}
	if _, err := LoadSymbolSet(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Underweight table should be rejected, got %v", err)
	}
}

func TestQueueEntryTerminalStates(t *testing.T) {
	terminal := []QueueEntryStatus{QueueStatusCompleted, QueueStatusAbandoned, QueueStatusRefunded, QueueStatusExpired}
	for _, status := range terminal {
		entry := &QueueEntry{Status: status}
		if !entry.IsTerminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []QueueEntryStatus{QueueStatusWaiting, QueueStatusActive} {
		entry := &QueueEntry{Status: status}
		if entry.IsTerminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestQueueEntryExpiry(t *testing.T) {
	now := time.Now()
	entry := &QueueEntry{Status: QueueStatusWaiting, ExpiresAt: now.Add(-time.Minute)}
	if !entry.IsExpired(now) {
		t.Error("Waiting entry past its deadline should be expired")
	}

	entry.ExpiresAt = now.Add(time.Minute)
	if entry.IsExpired(now) {
		t.Error("Entry before its deadline should not be expired")
	}

	// Only waiting entries expire; an active one is the scheduler's problem.
	entry.Status = QueueStatusActive
	entry.ExpiresAt = now.Add(-time.Minute)
	if entry.IsExpired(now) {
		t.Error("Active entry should not expire")
	}
}

func TestSpinRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		bet     float64
		wantErr bool
	}{
		{"at minimum", 1, false},
		{"at maximum", 10000, false},
		{"mid range", 100, false},
		{"below minimum", 0.5, true},
		{"zero", 0, true},
		{"negative", -100, true},
		{"above maximum", 10001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &SpinRequest{SessionID: "sess_1", BetAmount: tt.bet, IdempotencyKey: "key"}
			err := req.Validate(1, 10000)
			if tt.wantErr && !errors.Is(err, ErrInvalidBet) {
				t.Errorf("Expected ErrInvalidBet, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestSignedAmount(t *testing.T) {
	tests := []struct {
		txType TransactionType
		amount float64
		want   float64
	}{
		{TransactionTypeDebit, 100, -100},
		{TransactionTypeCredit, 150, 150},
		{TransactionTypeRefund, 100, 100},
	}
	for _, tt := range tests {
		tx := &PayoutTransaction{Type: tt.txType, Amount: tt.amount}
		if got := tx.SignedAmount(); got != tt.want {
			t.Errorf("%s of %.0f: expected %.0f, got %.0f", tt.txType, tt.amount, tt.want, got)
		}
	}
}

func TestGameSessionStates(t *testing.T) {
	open := []SessionStatus{SessionStatusInitializing, SessionStatusActive}
	for _, status := range open {
		s := &GameSession{Status: status}
		if !s.IsOpen() || s.IsTerminal() {
			t.Errorf("%s should be open and not terminal", status)
		}
	}
	closed := []SessionStatus{SessionStatusCompleted, SessionStatusAbandoned, SessionStatusFailed, SessionStatusRefunded}
	for _, status := range closed {
		s := &GameSession{Status: status}
		if s.IsOpen() || !s.IsTerminal() {
			t.Errorf("%s should be terminal and not open", status)
		}
	}
}

func TestGeneratedIDPrefixes(t *testing.T) {
	if id := GenerateQueueID(); !strings.HasPrefix(id, "q_") {
		t.Errorf("Queue ID should be q_ prefixed, got %s", id)
	}
	if id := GenerateSessionID(); !strings.HasPrefix(id, "sess_") {
		t.Errorf("Session ID should be sess_ prefixed, got %s", id)
	}
	if id := GenerateTransactionID(); !strings.HasPrefix(id, "tx_") {
		t.Errorf("Transaction ID should be tx_ prefixed, got %s", id)
	}
	if GenerateEventID() == GenerateEventID() {
		t.Error("Event IDs should be unique")
	}
}

func TestFormatCurrency(t *testing.T) {
	if got := FormatCurrency(12345); got != "$123.45" {
		t.Errorf("Expected $123.45, got %s", got)
	}
	if got := FormatCurrency(100); got != "$1.00" {
		t.Errorf("Expected $1.00, got %s", got)
	}
}
