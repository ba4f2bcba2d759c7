package betting

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDebit      EntryType = "debit"
	EntryCredit     EntryType = "credit"
	EntryAdjustment EntryType = "adjustment"
	// EntrySettlement closes a placed wager without moving the balance.
	EntrySettlement EntryType = "settlement"
)

// Ledger reasons.
const (
	ReasonBet     = "bet"
	ReasonWin     = "win"
	ReasonLoss    = "loss"
	ReasonDeposit = "deposit"
	ReasonReset   = "reset"
)

// Entry is one immutable record of a balance-affecting event.
type Entry struct {
	ID        string         `json:"id"`
	Type      EntryType      `json:"type"`
	Amount    float64        `json:"amount"`
	Balance   float64        `json:"balance"`
	Reason    string         `json:"reason"`
	GameID    string         `json:"gameId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newEntry(t EntryType, amount, balance decimal.Decimal, reason, gameID string, now time.Time, meta map[string]any) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Type:      t,
		Amount:    amount.InexactFloat64(),
		Balance:   balance.InexactFloat64(),
		Reason:    reason,
		GameID:    gameID,
		Timestamp: now,
		Metadata:  meta,
	}
}

// ledger is a bounded, insertion-ordered entry list.
type ledger struct {
	entries []Entry
	max     int
}

// append stores a copy of e; the caller keeps its own Metadata map.
func (l *ledger) append(e Entry) {
	e.Metadata = maps.Clone(e.Metadata)
	l.entries = append(l.entries, e)
	if l.max > 0 && len(l.entries) > l.max {
		drop := len(l.entries) - l.max
		l.entries = append([]Entry(nil), l.entries[drop:]...)
	}
}

// last returns up to n newest entries, oldest first. n <= 0 returns all.
func (l *ledger) last(n int) []Entry {
	src := l.entries
	if n > 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]Entry, len(src))
	for i, e := range src {
		e.Metadata = maps.Clone(e.Metadata)
		out[i] = e
	}
	return out
}
