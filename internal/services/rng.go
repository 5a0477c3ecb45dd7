package services

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"performer-slots-backend/internal/models"
)

const reelCount = 3

// SpinEngine draws symbols with crypto/rand and settles payouts. The
// outcome calculation is authoritative and server-side only; callers never
// supply a result, they only receive one.
type SpinEngine struct {
	symbols         *models.SymbolSet
	integritySecret []byte
}

// NewSpinEngine validates the symbol table once at construction. A table
// whose rarity weights do not sum to 1.0 is rejected here, never per spin.
func NewSpinEngine(symbols *models.SymbolSet, integritySecret string) (*SpinEngine, error) {
	if err := symbols.Validate(); err != nil {
		return nil, err
	}
	return &SpinEngine{
		symbols:         symbols,
		integritySecret: []byte(integritySecret),
	}, nil
}

func (e *SpinEngine) SymbolSet() *models.SymbolSet {
	return e.symbols
}

// randomUnit draws a uniform value in [0,1) from crypto/rand. 53 bits so the
// value is exactly representable as a float64.
func randomUnit() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to draw randomness: %v", err)
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53), nil
}

// SelectSymbol performs weighted selection by cumulative rarity.
func (e *SpinEngine) SelectSymbol() (models.Symbol, error) {
	u, err := randomUnit()
	if err != nil {
		return models.Symbol{}, err
	}

	var cumulative float64
	for _, sym := range e.symbols.Symbols {
		cumulative += sym.Rarity
		if u < cumulative {
			return sym, nil
		}
	}
	// Rarity sums to 1.0 within tolerance; a draw past the end lands on the
	// last symbol.
	return e.symbols.Symbols[len(e.symbols.Symbols)-1], nil
}

// Spin draws three independent symbols and settles the bet. Three identical
// symbols pay that symbol's payout_3x; anything else pays zero.
func (e *SpinEngine) Spin(sessionID string, betAmount float64) (*models.SpinRecord, error) {
	if betAmount <= 0 {
		return nil, fmt.Errorf("%w: bet must be positive", models.ErrInvalidBet)
	}

	var symbols [reelCount]string
	for i := 0; i < reelCount; i++ {
		sym, err := e.SelectSymbol()
		if err != nil {
			return nil, err
		}
		symbols[i] = sym.Name
	}

	record := &models.SpinRecord{
		SessionID: sessionID,
		Symbols:   symbols,
		BetAmount: betAmount,
		SpunAt:    time.Now(),
	}

	if symbols[0] == symbols[1] && symbols[1] == symbols[2] {
		matched := e.lookup(symbols[0])
		record.IsWin = true
		record.Payout = matched.Payout3x
		record.Multiplier = matched.Payout3x / betAmount
	}

	record.IntegrityHash = e.SpinHash(record)
	return record, nil
}

func (e *SpinEngine) lookup(name string) models.Symbol {
	for _, sym := range e.symbols.Symbols {
		if sym.Name == name {
			return sym
		}
	}
	return models.Symbol{}
}

// SpinHash is a deterministic HMAC over the full decision tuple so the spin
// can be re-verified later from the stored record alone.
func (e *SpinEngine) SpinHash(record *models.SpinRecord) string {
	payload := fmt.Sprintf("spin|%s|%s|%.2f|%t|%.2f|%d",
		record.SessionID,
		strings.Join(record.Symbols[:], ","),
		record.BetAmount,
		record.IsWin,
		record.Payout,
		record.SpunAt.UnixMilli(),
	)
	h := hmac.New(sha256.New, e.integritySecret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySpin recomputes the hash of a stored record.
func (e *SpinEngine) VerifySpin(record *models.SpinRecord) bool {
	return hmac.Equal([]byte(e.SpinHash(record)), []byte(record.IntegrityHash))
}
