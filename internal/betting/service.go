// Package betting owns the cross-game wallet: balance, current bet, risk
// level, the win/loss ledger and per-game bet limits.
package betting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/events"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/store"
)

// Subscriber channels.
const (
	EventBalanceChange   = "balanceChange"
	EventBetChange       = "betChange"
	EventRiskLevelChange = "riskLevelChange"
	EventWin             = "win"
	EventLoss            = "loss"
	EventHistoryChange   = "historyChange"
)

// Persistence keys.
const (
	keyBalance    = "betting:balance"
	keyCurrentBet = "betting:current_bet"
	keyRiskLevel  = "betting:risk_level"
	keyHistory    = "betting:history"
)

const persistTimeout = 2 * time.Second

// Options configures a Service.
type Options struct {
	StartingBalance  float64
	DefaultBet       float64
	MinBet           float64
	MaxBet           float64
	DefaultRiskLevel domain.RiskLevel
	RiskMultipliers  map[domain.RiskLevel]float64
	MaxHistory       int
	Persist          bool
	Store            store.KV
	Logger           *slog.Logger
	Now              func() time.Time
}

// OptionsFromConfig maps the betting config section onto Options.
func OptionsFromConfig(cfg config.BettingConfig, kv store.KV, logger *slog.Logger) Options {
	return Options{
		StartingBalance:  cfg.StartingBalance,
		DefaultBet:       cfg.DefaultBet,
		MinBet:           cfg.MinBet,
		MaxBet:           cfg.MaxBet,
		DefaultRiskLevel: cfg.DefaultRiskLevel,
		RiskMultipliers:  cfg.RiskMultipliers,
		MaxHistory:       cfg.MaxHistory,
		Persist:          cfg.Persist,
		Store:            kv,
		Logger:           logger,
	}
}

// Result is the outcome of a validating wallet operation. Failures carry a
// human-readable Message and leave the wallet unchanged.
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Bet     float64 `json:"bet"`
	Balance float64 `json:"balance"`
	Entry   *Entry  `json:"entry,omitempty"`
}

// Event is delivered to subscribers.
type Event struct {
	Type      string           `json:"type"`
	GameID    string           `json:"gameId,omitempty"`
	Balance   float64          `json:"balance"`
	Bet       float64          `json:"bet"`
	RiskLevel domain.RiskLevel `json:"riskLevel"`
	Entry     *Entry           `json:"entry,omitempty"`
}

// PotentialWinFunc overrides the default bet x multiplier calculation for one game.
type PotentialWinFunc func(bet float64, risk domain.RiskLevel) float64

// Snapshot is a read-only copy of the wallet.
type Snapshot struct {
	Balance         float64                      `json:"balance"`
	CurrentBet      float64                      `json:"currentBet"`
	RiskLevel       domain.RiskLevel             `json:"riskLevel"`
	RiskMultipliers map[domain.RiskLevel]float64 `json:"riskMultipliers"`
	GameLimits      map[string]domain.Limits     `json:"gameLimits"`
	History         []Entry                      `json:"history"`
}

// Service is the single source of truth for balance, bet and risk.
type Service struct {
	opts   Options
	logger *slog.Logger
	bus    *events.Bus[Event]

	mu          sync.Mutex
	balance     decimal.Decimal
	bet         decimal.Decimal
	risk        domain.RiskLevel
	multipliers map[domain.RiskLevel]decimal.Decimal
	limits      map[string]domain.Limits
	calculators map[string]PotentialWinFunc
	history     ledger
}

// New creates the service and restores any persisted wallet. Corrupt or
// missing records fall back to the configured defaults.
func New(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.DefaultRiskLevel.Valid() {
		opts.DefaultRiskLevel = domain.RiskMedium
	}
	logger := logging.OrDiscard(opts.Logger).With("component", "betting")

	s := &Service{
		opts:        opts,
		logger:      logger,
		bus:         events.NewBus[Event]("betting", logger),
		balance:     money(opts.StartingBalance),
		bet:         money(opts.DefaultBet),
		risk:        opts.DefaultRiskLevel,
		multipliers: make(map[domain.RiskLevel]decimal.Decimal),
		limits:      make(map[string]domain.Limits),
		calculators: make(map[string]PotentialWinFunc),
		history:     ledger{max: opts.MaxHistory},
	}
	for r, m := range opts.RiskMultipliers {
		s.multipliers[r] = decimal.NewFromFloat(m)
	}
	s.load()
	return s
}

func money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func validAmount(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

// Subscribe registers fn for event and returns the unsubscribe closure.
func (s *Service) Subscribe(event string, fn func(Event)) func() {
	return s.bus.Subscribe(event, fn)
}

func (s *Service) emit(evts []Event) {
	for _, e := range evts {
		s.bus.Emit(e.Type, e)
	}
}

// eventLocked builds an event from current state; s.mu must be held.
func (s *Service) eventLocked(typ, gameID string, entry *Entry) Event {
	return Event{
		Type:      typ,
		GameID:    gameID,
		Balance:   s.balance.InexactFloat64(),
		Bet:       s.bet.InexactFloat64(),
		RiskLevel: s.risk,
		Entry:     entry,
	}
}

// Balance returns the current balance.
func (s *Service) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance.InexactFloat64()
}

// Bet returns the current bet.
func (s *Service) Bet() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bet.InexactFloat64()
}

// RiskLevel returns the current risk level.
func (s *Service) RiskLevel() domain.RiskLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk
}

// Multiplier returns the payout multiplier for risk.
func (s *Service) Multiplier(risk domain.RiskLevel) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multipliers[risk].InexactFloat64()
}

// Limits returns the effective limits for gameID: the registered override,
// or the global defaults.
func (s *Service) Limits(gameID string) domain.Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitsLocked(gameID)
}

func (s *Service) limitsLocked(gameID string) domain.Limits {
	if l, ok := s.limits[gameID]; ok && gameID != "" {
		return l
	}
	return domain.Limits{MinBet: s.opts.MinBet, MaxBet: s.opts.MaxBet, DefaultBet: s.opts.DefaultBet}
}

// RegisterGameLimits installs per-game bounds after validating them.
func (s *Service) RegisterGameLimits(gameID string, limits domain.Limits) error {
	if strings.TrimSpace(gameID) == "" {
		return fmt.Errorf("betting: game id is required")
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("betting: limits for %s: %w", gameID, err)
	}
	s.mu.Lock()
	s.limits[gameID] = limits
	s.mu.Unlock()
	return nil
}

// UnregisterGameLimits removes a per-game override.
func (s *Service) UnregisterGameLimits(gameID string) {
	s.mu.Lock()
	delete(s.limits, gameID)
	s.mu.Unlock()
}

// RegisterCalculator installs a per-game potential-win function and returns
// a closure that removes it.
func (s *Service) RegisterCalculator(gameID string, fn PotentialWinFunc) func() {
	s.mu.Lock()
	s.calculators[gameID] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.calculators, gameID)
		s.mu.Unlock()
	}
}

// checkBetLocked validates amount against limits and balance.
func (s *Service) checkBetLocked(amount float64, gameID string) string {
	if !validAmount(amount) {
		return "Bet amount must be a positive number"
	}
	lim := s.limitsLocked(gameID)
	if amount < lim.MinBet {
		return fmt.Sprintf("Minimum bet is %s", money(lim.MinBet).StringFixed(2))
	}
	if lim.Above(amount) {
		return fmt.Sprintf("Maximum bet is %s", money(lim.MaxBet).StringFixed(2))
	}
	if money(amount).GreaterThan(s.balance) {
		return "Insufficient balance"
	}
	return ""
}

func (s *Service) failLocked(msg string) Result {
	return Result{Success: false, Message: msg, Bet: s.bet.InexactFloat64(), Balance: s.balance.InexactFloat64()}
}

func (s *Service) okLocked(entry *Entry) Result {
	return Result{Success: true, Bet: s.bet.InexactFloat64(), Balance: s.balance.InexactFloat64(), Entry: entry}
}

// ValidateBet reports the failure message SetBet would produce, or "".
func (s *Service) ValidateBet(amount float64, gameID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkBetLocked(amount, gameID)
}

// SetBet validates amount against the effective limits and the balance.
func (s *Service) SetBet(amount float64, gameID string) Result {
	s.mu.Lock()
	if msg := s.checkBetLocked(amount, gameID); msg != "" {
		res := s.failLocked(msg)
		s.mu.Unlock()
		return res
	}
	s.bet = money(amount)
	s.persistLocked(keyCurrentBet)
	res := s.okLocked(nil)
	evt := s.eventLocked(EventBetChange, gameID, nil)
	s.mu.Unlock()

	s.emit([]Event{evt})
	return res
}

// IncreaseBet adds delta to the current bet. delta is an absolute amount
// ("5") or a percentage of the current bet ("10%").
func (s *Service) IncreaseBet(delta, gameID string) Result {
	return s.adjustBet(delta, gameID, 1)
}

// DecreaseBet subtracts delta from the current bet; see IncreaseBet.
func (s *Service) DecreaseBet(delta, gameID string) Result {
	return s.adjustBet(delta, gameID, -1)
}

func (s *Service) adjustBet(delta, gameID string, sign int64) Result {
	s.mu.Lock()
	current := s.bet
	d, err := parseDelta(delta, current)
	if err != nil {
		res := s.failLocked("Bet adjustment must be a number or a percentage")
		s.mu.Unlock()
		return res
	}
	s.mu.Unlock()

	next := current.Add(d.Mul(decimal.NewFromInt(sign))).Round(2)
	return s.SetBet(next.InexactFloat64(), gameID)
}

func parseDelta(raw string, current decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if pct, ok := strings.CutSuffix(raw, "%"); ok {
		p, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return decimal.Zero, err
		}
		return current.Mul(p).Div(decimal.NewFromInt(100)), nil
	}
	return decimal.NewFromString(raw)
}

// SetRiskLevel changes the active risk tier.
func (s *Service) SetRiskLevel(risk domain.RiskLevel) Result {
	s.mu.Lock()
	if !risk.Valid() {
		res := s.failLocked(fmt.Sprintf("Invalid risk level %q", risk))
		s.mu.Unlock()
		return res
	}
	if _, ok := s.multipliers[risk]; !ok {
		res := s.failLocked(fmt.Sprintf("No multiplier configured for risk level %q", risk))
		s.mu.Unlock()
		return res
	}
	s.risk = risk
	s.persistLocked(keyRiskLevel)
	res := s.okLocked(nil)
	evt := s.eventLocked(EventRiskLevelChange, "", nil)
	s.mu.Unlock()

	s.emit([]Event{evt})
	return res
}

// PlaceBet debits amount as a wager. The round later settles through
// RegisterWin or SettleLoss.
func (s *Service) PlaceBet(amount float64, gameID string, meta map[string]any) Result {
	return s.debit(amount, gameID, ReasonBet, meta, "")
}

// RegisterLoss debits amount as a lost wager that was never placed.
func (s *Service) RegisterLoss(amount float64, gameID string, meta map[string]any) Result {
	return s.debit(amount, gameID, ReasonLoss, meta, EventLoss)
}

// SettleLoss closes a placed wager as lost. The stake already left the
// balance with PlaceBet, so the entry records it without moving money.
func (s *Service) SettleLoss(stake float64, gameID string, meta map[string]any) Result {
	s.mu.Lock()
	if !validAmount(stake) {
		res := s.failLocked("Amount must be a positive number")
		s.mu.Unlock()
		return res
	}
	entry := newEntry(EntrySettlement, money(stake), s.balance, ReasonLoss, gameID, s.opts.Now(), maps.Clone(meta))
	s.history.append(entry)
	s.persistLocked(keyHistory)

	evts := []Event{
		s.eventLocked(EventHistoryChange, gameID, &entry),
		s.eventLocked(EventLoss, gameID, &entry),
	}
	res := s.okLocked(&entry)
	s.mu.Unlock()

	s.emit(evts)
	return res
}

func (s *Service) debit(amount float64, gameID, reason string, meta map[string]any, channel string) Result {
	s.mu.Lock()
	if !validAmount(amount) {
		res := s.failLocked("Amount must be a positive number")
		s.mu.Unlock()
		return res
	}
	amt := money(amount)
	if amt.GreaterThan(s.balance) {
		res := s.failLocked("Insufficient balance")
		s.mu.Unlock()
		return res
	}
	s.balance = s.balance.Sub(amt)
	entry := newEntry(EntryDebit, amt, s.balance, reason, gameID, s.opts.Now(), maps.Clone(meta))
	s.history.append(entry)
	s.persistLocked(keyBalance, keyHistory)

	evts := []Event{
		s.eventLocked(EventBalanceChange, gameID, &entry),
		s.eventLocked(EventHistoryChange, gameID, &entry),
	}
	if channel != "" {
		evts = append(evts, s.eventLocked(channel, gameID, &entry))
	}
	res := s.okLocked(&entry)
	s.mu.Unlock()

	s.emit(evts)
	return res
}

// RegisterWin credits amount. The ledger entry records the wager and the
// win/bet ratio derived from it.
func (s *Service) RegisterWin(amount float64, gameID string, meta map[string]any) Result {
	s.mu.Lock()
	if !validAmount(amount) {
		res := s.failLocked("Amount must be a positive number")
		s.mu.Unlock()
		return res
	}
	amt := money(amount)
	md := maps.Clone(meta)
	if md == nil {
		md = make(map[string]any, 2)
	}
	bet := s.bet
	if b, ok := md["bet"].(float64); ok && b > 0 {
		bet = money(b)
	}
	md["bet"] = bet.InexactFloat64()
	if bet.IsPositive() {
		md["ratio"] = amt.Div(bet).Round(4).InexactFloat64()
	}

	s.balance = s.balance.Add(amt)
	entry := newEntry(EntryCredit, amt, s.balance, ReasonWin, gameID, s.opts.Now(), md)
	s.history.append(entry)
	s.persistLocked(keyBalance, keyHistory)

	evts := []Event{
		s.eventLocked(EventBalanceChange, gameID, &entry),
		s.eventLocked(EventHistoryChange, gameID, &entry),
		s.eventLocked(EventWin, gameID, &entry),
	}
	res := s.okLocked(&entry)
	s.mu.Unlock()

	s.emit(evts)
	return res
}

// AddFunds records a positive adjustment.
func (s *Service) AddFunds(amount float64, reason string) Result {
	s.mu.Lock()
	if !validAmount(amount) {
		res := s.failLocked("Amount must be a positive number")
		s.mu.Unlock()
		return res
	}
	if reason == "" {
		reason = ReasonDeposit
	}
	amt := money(amount)
	s.balance = s.balance.Add(amt)
	entry := newEntry(EntryAdjustment, amt, s.balance, reason, "", s.opts.Now(), nil)
	s.history.append(entry)
	s.persistLocked(keyBalance, keyHistory)

	evts := []Event{
		s.eventLocked(EventBalanceChange, "", &entry),
		s.eventLocked(EventHistoryChange, "", &entry),
	}
	res := s.okLocked(&entry)
	s.mu.Unlock()

	s.emit(evts)
	return res
}

// Reset restores the starting balance, default bet and default risk and
// clears the ledger, leaving a single reset adjustment.
func (s *Service) Reset() Result {
	s.mu.Lock()
	s.balance = money(s.opts.StartingBalance)
	s.bet = money(s.opts.DefaultBet)
	s.risk = s.opts.DefaultRiskLevel
	s.history = ledger{max: s.opts.MaxHistory}
	entry := newEntry(EntryAdjustment, s.balance, s.balance, ReasonReset, "", s.opts.Now(), nil)
	s.history.append(entry)
	s.persistLocked(keyBalance, keyCurrentBet, keyRiskLevel, keyHistory)

	evts := []Event{
		s.eventLocked(EventBalanceChange, "", &entry),
		s.eventLocked(EventBetChange, "", nil),
		s.eventLocked(EventRiskLevelChange, "", nil),
		s.eventLocked(EventHistoryChange, "", &entry),
	}
	res := s.okLocked(&entry)
	s.mu.Unlock()

	s.emit(evts)
	return res
}

// Defaults are the wallet-wide settings an administrator can change at run
// time. StartingBalance takes effect on the next Reset.
type Defaults struct {
	StartingBalance  float64                      `json:"startingBalance"`
	DefaultBet       float64                      `json:"defaultBet"`
	MinBet           float64                      `json:"minBet"`
	MaxBet           float64                      `json:"maxBet"`
	DefaultRiskLevel domain.RiskLevel             `json:"defaultRiskLevel"`
	RiskMultipliers  map[domain.RiskLevel]float64 `json:"riskMultipliers"`
}

// Validate checks the bounds and multipliers.
func (d Defaults) Validate() error {
	if !validAmount(d.StartingBalance) {
		return fmt.Errorf("betting: starting balance must be positive")
	}
	if err := (domain.Limits{MinBet: d.MinBet, MaxBet: d.MaxBet, DefaultBet: d.DefaultBet}).Validate(); err != nil {
		return fmt.Errorf("betting: %w", err)
	}
	if !d.DefaultRiskLevel.Valid() {
		return fmt.Errorf("betting: unknown risk level %q", d.DefaultRiskLevel)
	}
	for r, m := range d.RiskMultipliers {
		if !r.Valid() || !validAmount(m) {
			return fmt.Errorf("betting: invalid multiplier %v for %q", m, r)
		}
	}
	return nil
}

// CurrentDefaults returns the wallet-wide settings in effect.
func (s *Service) CurrentDefaults() Defaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Defaults{
		StartingBalance:  s.opts.StartingBalance,
		DefaultBet:       s.opts.DefaultBet,
		MinBet:           s.opts.MinBet,
		MaxBet:           s.opts.MaxBet,
		DefaultRiskLevel: s.opts.DefaultRiskLevel,
		RiskMultipliers:  make(map[domain.RiskLevel]float64, len(s.multipliers)),
	}
	for r, m := range s.multipliers {
		d.RiskMultipliers[r] = m.InexactFloat64()
	}
	return d
}

// ApplyDefaults swaps the wallet-wide settings. A current bet that falls
// outside the new global bounds moves to the new default bet.
func (s *Service) ApplyDefaults(d Defaults) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.StartingBalance = d.StartingBalance
	s.opts.DefaultBet = d.DefaultBet
	s.opts.MinBet = d.MinBet
	s.opts.MaxBet = d.MaxBet
	s.opts.DefaultRiskLevel = d.DefaultRiskLevel
	if len(d.RiskMultipliers) > 0 {
		s.multipliers = make(map[domain.RiskLevel]decimal.Decimal, len(d.RiskMultipliers))
		for r, m := range d.RiskMultipliers {
			s.multipliers[r] = decimal.NewFromFloat(m)
		}
	}
	var evts []Event
	bet := s.bet.InexactFloat64()
	if lim := (domain.Limits{MinBet: d.MinBet, MaxBet: d.MaxBet}); lim.Clamp(bet) != bet {
		s.bet = money(d.DefaultBet)
		s.persistLocked(keyCurrentBet)
		evts = append(evts, s.eventLocked(EventBetChange, "", nil))
	}
	s.mu.Unlock()

	s.emit(evts)
	return nil
}

// CalculatePotentialWin returns bet x multiplier[risk], or the registered
// per-game calculator's value. A zero bet or empty risk uses the current one.
// It never mutates the wallet.
func (s *Service) CalculatePotentialWin(bet float64, risk domain.RiskLevel, gameID string) float64 {
	s.mu.Lock()
	if bet <= 0 {
		bet = s.bet.InexactFloat64()
	}
	if risk == "" {
		risk = s.risk
	}
	calc := s.calculators[gameID]
	mult, ok := s.multipliers[risk]
	s.mu.Unlock()

	if calc != nil {
		return money(calc(bet, risk)).InexactFloat64()
	}
	if !ok {
		return 0
	}
	return decimal.NewFromFloat(bet).Mul(mult).Round(2).InexactFloat64()
}

// History returns up to limit newest entries, oldest first. limit <= 0 returns all.
func (s *Service) History(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.last(limit)
}

// Snapshot copies the whole wallet.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	mults := make(map[domain.RiskLevel]float64, len(s.multipliers))
	for r, m := range s.multipliers {
		mults[r] = m.InexactFloat64()
	}
	lims := make(map[string]domain.Limits, len(s.limits))
	for id, l := range s.limits {
		lims[id] = l
	}
	return Snapshot{
		Balance:         s.balance.InexactFloat64(),
		CurrentBet:      s.bet.InexactFloat64(),
		RiskLevel:       s.risk,
		RiskMultipliers: mults,
		GameLimits:      lims,
		History:         s.history.last(0),
	}
}

// persistLocked writes the named keys. Failures are logged, never returned.
func (s *Service) persistLocked(keys ...string) {
	if !s.opts.Persist || s.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	for _, key := range keys {
		var value string
		switch key {
		case keyBalance:
			value = s.balance.StringFixed(2)
		case keyCurrentBet:
			value = s.bet.StringFixed(2)
		case keyRiskLevel:
			value = string(s.risk)
		case keyHistory:
			data, err := json.Marshal(s.history.entries)
			if err != nil {
				s.logger.Error("encode history failed", "err", err)
				continue
			}
			value = string(data)
		}
		if err := s.opts.Store.Set(ctx, key, value); err != nil {
			s.logger.Error("persist failed", "key", key, "err", err)
		}
	}
}

func (s *Service) load() {
	if !s.opts.Persist || s.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	get := func(key string) (string, bool) {
		v, ok, err := s.opts.Store.Get(ctx, key)
		if err != nil {
			s.logger.Warn("load failed, using default", "key", key, "err", err)
			return "", false
		}
		return v, ok
	}

	if v, ok := get(keyBalance); ok {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			s.balance = d.Round(2)
		} else {
			s.logger.Warn("corrupt balance record, using default", "value", v)
		}
	}
	if v, ok := get(keyCurrentBet); ok {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			s.bet = d.Round(2)
		} else {
			s.logger.Warn("corrupt bet record, using default", "value", v)
		}
	}
	if v, ok := get(keyRiskLevel); ok {
		if r := domain.RiskLevel(v); r.Valid() {
			s.risk = r
		} else {
			s.logger.Warn("corrupt risk record, using default", "value", v)
		}
	}
	if v, ok := get(keyHistory); ok {
		var entries []Entry
		if err := json.Unmarshal([]byte(v), &entries); err == nil {
			for _, e := range entries {
				s.history.append(e)
			}
		} else {
			s.logger.Warn("corrupt history record, starting empty", "err", err)
		}
	}
}
