// Package domain holds the small enums shared across games and services.
package domain

import (
	"fmt"
	"strings"
)

// RiskLevel selects a payout multiplier tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevels lists the valid risk levels in ascending order.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// ParseRiskLevel normalises s and validates it.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid risk level %q", s)
	}
	return r, nil
}

// Category groups games in listings.
type Category string

const (
	CategoryDice  Category = "dice"
	CategoryCard  Category = "card"
	CategorySlot  Category = "slot"
	CategoryTable Category = "table"
	CategoryOther Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDice, CategoryCard, CategorySlot, CategoryTable, CategoryOther:
		return true
	}
	return false
}

// Limits are per-game betting bounds. A zero MaxBet means no maximum.
type Limits struct {
	MinBet     float64 `json:"minBet" yaml:"minBet"`
	MaxBet     float64 `json:"maxBet" yaml:"maxBet"`
	DefaultBet float64 `json:"defaultBet" yaml:"defaultBet"`
}

// Validate enforces non-negative bounds with MinBet <= MaxBet. A zero
// DefaultBet means unset; otherwise it must lie inside the bounds.
func (l Limits) Validate() error {
	if l.MinBet < 0 || l.MaxBet < 0 || l.DefaultBet < 0 {
		return fmt.Errorf("bet limits must be non-negative")
	}
	if l.MaxBet > 0 && l.MinBet > l.MaxBet {
		return fmt.Errorf("minBet %v exceeds maxBet %v", l.MinBet, l.MaxBet)
	}
	if l.DefaultBet != 0 && l.Clamp(l.DefaultBet) != l.DefaultBet {
		return fmt.Errorf("defaultBet %v outside [%v, %v]", l.DefaultBet, l.MinBet, l.MaxBet)
	}
	return nil
}

// Above reports whether amount exceeds MaxBet.
func (l Limits) Above(amount float64) bool {
	return l.MaxBet > 0 && amount > l.MaxBet
}

// Clamp moves amount into the bounds.
func (l Limits) Clamp(amount float64) float64 {
	if amount < l.MinBet {
		return l.MinBet
	}
	if l.Above(amount) {
		return l.MaxBet
	}
	return amount
}
