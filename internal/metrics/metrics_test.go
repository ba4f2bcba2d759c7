package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collectors) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCollectors(t *testing.T) {
	c := New()
	c.SessionOpened("dice-game")
	c.SessionOpened("hilo")
	c.SessionClosed("hilo")
	c.SessionReloaded("dice-game", nil)
	c.ActionDone("dice-game", "roll", 3*time.Millisecond, nil)
	c.ActionDone("dice-game", "roll", time.Millisecond, errors.New("boom"))
	c.Settled("dice-game", true, 30)
	c.Settled("dice-game", false, 10)
	c.Settled("dice-game", false, 0)
	c.Balance(1020)
	c.ManifestReloaded(nil)
	c.ManifestReloaded(errors.New("bad"))

	out := scrape(t, c)
	for _, want := range []string{
		`playground_sessions_active 1`,
		`playground_session_events_total{event="opened",game="dice-game"} 1`,
		`playground_session_events_total{event="reloaded",game="dice-game"} 1`,
		`playground_actions_total{action="roll",game="dice-game",outcome="error"} 1`,
		`playground_actions_total{action="roll",game="dice-game",outcome="ok"} 1`,
		`playground_action_duration_seconds_count{action="roll",game="dice-game"} 2`,
		`playground_wallet_amount_total{game="dice-game",kind="win"} 30`,
		`playground_wallet_amount_total{game="dice-game",kind="loss"} 10`,
		`playground_wallet_balance 1020`,
		`playground_manifest_reloads_total{result="error"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRuntimeCollectorsRegistered(t *testing.T) {
	if out := scrape(t, New()); !strings.Contains(out, "go_goroutines") {
		t.Fatal("go collector not registered")
	}
}
