package models

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Symbol is one reel face: a rarity weight for selection and the payout for
// landing three of it.
type Symbol struct {
	Name     string  `json:"name"`
	Rarity   float64 `json:"rarity"`
	Payout3x float64 `json:"payout_3x"`
}

type SymbolSet struct {
	Symbols []Symbol `json:"symbols"`
}

// rarityTolerance is how far the rarity weights may drift from summing to
// exactly 1.0 before the table is rejected.
const rarityTolerance = 0.01

// Validate rejects tables whose rarity weights do not sum to 1.0 within
// tolerance. Run once at load time; spins assume a validated set.
func (s *SymbolSet) Validate() error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("%w: empty symbol table", ErrInvalidConfig)
	}

	var sum float64
	for _, sym := range s.Symbols {
		if sym.Name == "" {
			return fmt.Errorf("%w: symbol with empty name", ErrInvalidConfig)
		}
		if sym.Rarity <= 0 {
			return fmt.Errorf("%w: symbol %q has non-positive rarity", ErrInvalidConfig, sym.Name)
		}
		if sym.Payout3x < 0 {
			return fmt.Errorf("%w: symbol %q has negative payout", ErrInvalidConfig, sym.Name)
		}
		sum += sym.Rarity
	}

	if math.Abs(sum-1.0) > rarityTolerance {
		return fmt.Errorf("%w: rarity weights sum to %.4f, want 1.0±%.2f", ErrInvalidConfig, sum, rarityTolerance)
	}

	return nil
}

// RTP is the expected long-run payout fraction per unit bet implied by the
// table: Σ rarity³ · payout_3x / bet. Used only for anomaly heuristics.
func (s *SymbolSet) RTP(betAmount float64) float64 {
	if betAmount <= 0 {
		return 0
	}
	var expected float64
	for _, sym := range s.Symbols {
		expected += math.Pow(sym.Rarity, 3) * sym.Payout3x
	}
	return expected / betAmount
}

// DefaultSymbolSet is the built-in table used when no SYMBOLS_PATH is
// configured. Weights sum to 1.0.
func DefaultSymbolSet() *SymbolSet {
	return &SymbolSet{Symbols: []Symbol{
		{Name: "cherry", Rarity: 0.30, Payout3x: 150},
		{Name: "lemon", Rarity: 0.25, Payout3x: 200},
		{Name: "orange", Rarity: 0.20, Payout3x: 300},
		{Name: "bell", Rarity: 0.12, Payout3x: 500},
		{Name: "star", Rarity: 0.08, Payout3x: 1000},
		{Name: "diamond", Rarity: 0.04, Payout3x: 2500},
		{Name: "jackpot", Rarity: 0.01, Payout3x: 10000},
	}}
}

// LoadSymbolSet reads and validates a symbol table from a JSON file, falling
// back to the default table when path is empty.
func LoadSymbolSet(path string) (*SymbolSet, error) {
	if path == "" {
		set := DefaultSymbolSet()
		if err := set.Validate(); err != nil {
			return nil, err
		}
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol table: %v", err)
	}

	var set SymbolSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: malformed symbol table: %v", ErrInvalidConfig, err)
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}

	return &set, nil
}
