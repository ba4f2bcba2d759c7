package loader

import (
	"errors"
	"sync"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
)

// Session is one running game instance.
type Session struct {
	ID     string        `json:"id"`
	GameID string        `json:"gameId"`
	Path   string        `json:"path"`
	Opened time.Time     `json:"opened"`
	Game   *game.Runtime `json:"-"`

	surface game.Surface
	detach  []func()

	mu      sync.Mutex
	started map[string]time.Time
}

// wire forwards the instance's events to the wallet, the state history and
// the observer.
func (s *Session) wire(l *Loader) {
	rt, wallet, obs := s.Game, l.opts.Betting, l.opts.Observer
	logger := l.logger.With("game", s.GameID)

	on := func(name string, fn func(game.Event)) {
		id := rt.AddEventListener(name, fn)
		s.detach = append(s.detach, func() { rt.RemoveEventListener(name, id) })
	}

	on(game.EventBet, func(e game.Event) {
		amount := number(e.Data["amount"])
		res := wallet.PlaceBet(amount, s.GameID, map[string]any{"session": s.ID})
		if !res.Success {
			logger.Warn("wallet rejected bet", "amount", amount, "reason", res.Message)
			rt.SyncBalance(res.Balance)
		}
	})
	on(game.EventWin, func(e game.Event) {
		amount := number(e.Data["amount"])
		if amount > 0 {
			res := wallet.RegisterWin(amount, s.GameID, map[string]any{"bet": e.Data["bet"], "session": s.ID})
			if !res.Success {
				logger.Warn("wallet rejected win", "amount", amount, "reason", res.Message)
				rt.SyncBalance(res.Balance)
			}
		}
		obs.Settled(s.GameID, true, amount)
	})
	on(game.EventLoss, func(e game.Event) {
		stake := number(e.Data["amount"])
		if stake > 0 {
			if res := wallet.SettleLoss(stake, s.GameID, map[string]any{"session": s.ID}); !res.Success {
				logger.Warn("wallet rejected loss", "stake", stake, "reason", res.Message)
			}
		}
		obs.Settled(s.GameID, false, stake)
	})
	on(game.EventBetChange, func(e game.Event) {
		res := wallet.SetBet(number(e.Data["bet"]), s.GameID)
		if !res.Success {
			logger.Warn("wallet rejected bet", "reason", res.Message)
			rt.SyncWallet(res.Bet, "")
		}
	})
	on(game.EventRiskChange, func(e game.Event) {
		risk, _ := e.Data["riskLevel"].(domain.RiskLevel)
		if res := wallet.SetRiskLevel(risk); !res.Success {
			logger.Warn("wallet rejected risk level", "reason", res.Message)
		}
	})
	on(game.EventStateChange, func(e game.Event) {
		st, _ := e.Data["state"].(game.State)
		record, _ := e.Data["record"].(bool)
		l.opts.State.SetState(s.GameID, st, record)
	})
	on(game.EventSpinStart, func(e game.Event) {
		action, _ := e.Data["action"].(string)
		s.mu.Lock()
		s.started[action] = time.Now()
		s.mu.Unlock()
	})
	on(game.EventSpinEnd, func(e game.Event) {
		action, _ := e.Data["action"].(string)
		s.mu.Lock()
		start, ok := s.started[action]
		delete(s.started, action)
		s.mu.Unlock()
		if !ok {
			return
		}
		var err error
		if msg, failed := e.Data["error"].(string); failed {
			err = errors.New(msg)
		}
		obs.ActionDone(s.GameID, action, time.Since(start), err)
	})
}

func (s *Session) release() {
	for i := len(s.detach) - 1; i >= 0; i-- {
		s.detach[i]()
	}
	s.detach = nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
