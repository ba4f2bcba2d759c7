package domain

import "testing"

func TestLimitsZeroMaxIsUnbounded(t *testing.T) {
	l := Limits{MinBet: 1, DefaultBet: 5000}
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if l.Above(1e9) {
		t.Error("zero max must not cap bets")
	}
	if got := l.Clamp(0.5); got != 1 {
		t.Errorf("Clamp(0.5) = %v, want 1", got)
	}
	if got := l.Clamp(1e6); got != 1e6 {
		t.Errorf("Clamp(1e6) = %v, want 1e6", got)
	}
}

func TestLimitsValidate(t *testing.T) {
	cases := []struct {
		name string
		l    Limits
		ok   bool
	}{
		{"bounded", Limits{MinBet: 1, MaxBet: 10, DefaultBet: 5}, true},
		{"unset default", Limits{MinBet: 1, MaxBet: 10}, true},
		{"inverted", Limits{MinBet: 10, MaxBet: 1}, false},
		{"default above max", Limits{MinBet: 1, MaxBet: 10, DefaultBet: 20}, false},
		{"default below min", Limits{MinBet: 5, MaxBet: 10, DefaultBet: 1}, false},
		{"negative", Limits{MinBet: -1, MaxBet: 10}, false},
	}
	for _, tc := range cases {
		if err := tc.l.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: Validate() = %v", tc.name, err)
		}
	}
	if got := (Limits{MinBet: 1, MaxBet: 10}).Clamp(20); got != 10 {
		t.Errorf("Clamp(20) = %v, want 10", got)
	}
}
