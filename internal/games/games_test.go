package games

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

var testSeeds = Seeds{Server: "test_server_seed", Client: "test_client_seed"}

func snapshot(state game.State) game.Snapshot {
	return game.Snapshot{
		GameID:  "test",
		State:   state,
		Balance: 1000,
		Bet:     10,
		Risk:    domain.RiskMedium,
		Limits:  domain.Limits{MinBet: 1, MaxBet: 500},
	}
}

// apply merges an outcome the way the runtime does.
func apply(st game.State, out game.Outcome) game.State {
	next := game.State{}
	for k, v := range st {
		next[k] = v
	}
	for k, v := range out.State {
		next[k] = v
	}
	return next
}

func TestFloatsDeterministic(t *testing.T) {
	a := Floats("s", "c", 7, 0, 12)
	b := Floats("s", "c", 7, 0, 12)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("float %d differs: %v vs %v", i, a[i], b[i])
		}
		if a[i] < 0 || a[i] >= 1 {
			t.Fatalf("float %d out of range: %v", i, a[i])
		}
	}
	// cursor 32 is the first byte of the second HMAC round
	tail := Floats("s", "c", 7, 32, 1)
	if tail[0] != a[8] {
		t.Fatalf("cursor 32 = %v, want %v", tail[0], a[8])
	}
}

func TestRNGAdvancesNonce(t *testing.T) {
	rng := NewRNG(testSeeds)
	f, nonce := rng.Draw(1)
	if nonce != 1 || rng.Nonce() != 1 {
		t.Fatalf("nonce = %d", nonce)
	}
	if DiceRoll(f[0]) != 96.71 {
		t.Fatalf("roll for nonce 1 = %v, want 96.71", DiceRoll(f[0]))
	}
	if DiceRoll(rng.Float()) != 45.49 {
		t.Fatal("roll for nonce 2 should be 45.49")
	}
}

func TestDiceRollRange(t *testing.T) {
	if DiceRoll(0) != 0 {
		t.Errorf("DiceRoll(0) = %v", DiceRoll(0))
	}
	if got := DiceRoll(0.99999999); got != 100 {
		t.Errorf("DiceRoll(~1) = %v", got)
	}
}

func TestDiceSettles(t *testing.T) {
	d := NewDice(NewRNG(testSeeds), DefaultMultipliers)
	st, _ := d.Setup(context.Background(), game.Env{})

	out, err := d.Act(context.Background(), snapshot(st), game.Action{Type: "roll"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleWin || out.WinAmount != 30 || out.Wager != 10 {
		t.Fatalf("nonce 1 should stake 10 and win 30 at medium risk, got %+v", out)
	}
	res := out.Result.(map[string]any)
	if res["roll"] != 96.71 || res["target"] != 67.0 {
		t.Fatalf("unexpected result %v", res)
	}
	st = apply(st, out)

	out, err = d.Act(context.Background(), snapshot(st), game.Action{Type: "spin"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleLoss || out.Stake != 10 || out.Wager != 10 || out.WinAmount != 0 {
		t.Fatalf("nonce 2 should lose the stake, got %+v", out)
	}
	st = apply(st, out)
	if st["rolls"] != 2 || len(st["history"].([]any)) != 2 {
		t.Fatalf("state = %v", st)
	}

	if got := d.PotentialWin(10, domain.RiskMedium); got != 30 {
		t.Fatalf("potential win = %v", got)
	}
}

func TestDiceNeverFavoursThePlayer(t *testing.T) {
	for _, risk := range domain.RiskLevels {
		mult := DefaultMultipliers[risk]
		for _, dir := range []string{"over", "under"} {
			target := diceTarget(mult, dir)
			wins := 0
			for i := 0; i <= 10000; i++ {
				roll := float64(i) / 100
				if (dir == "over" && roll > target) || (dir == "under" && roll < target) {
					wins++
				}
			}
			if ev := float64(wins) / 10001 * mult; ev >= 1 {
				t.Errorf("%s %s: expected return %v per unit staked", risk, dir, ev)
			}
		}
	}

	d := NewDice(NewRNG(testSeeds), DefaultMultipliers)
	var staked, paid float64
	for i := 0; i < 200000; i++ {
		out, err := d.Act(context.Background(), snapshot(game.State{}), game.Action{Type: "roll"})
		if err != nil {
			t.Fatal(err)
		}
		staked += out.Wager
		paid += out.WinAmount
	}
	if rtp := paid / staked; rtp > 1 {
		t.Fatalf("seeded return to player %v exceeds the stake", rtp)
	}
}

func TestDiceRejectsBadStake(t *testing.T) {
	d := NewDice(NewRNG(testSeeds), DefaultMultipliers)
	snap := snapshot(game.State{})
	snap.Bet = 2000
	if _, err := d.Act(context.Background(), snap, game.Action{Type: "roll"}); !errors.Is(err, game.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	snap = snapshot(game.State{})
	if _, err := d.Act(context.Background(), snap, game.Action{Type: "roll", Params: map[string]any{"direction": "sideways"}}); err == nil {
		t.Fatal("expected error for bad direction")
	}
	if d.rng.Nonce() != 0 {
		t.Fatal("rejected roll consumed a nonce")
	}
}

func TestHiLoRound(t *testing.T) {
	h := NewHiLo(NewRNG(testSeeds), DefaultMultipliers)
	ctx := context.Background()
	st, _ := h.Setup(ctx, game.Env{})

	if _, err := h.Act(ctx, snapshot(st), game.Action{Type: "higher"}); err == nil {
		t.Fatal("guess before deal should fail")
	}

	out, err := h.Act(ctx, snapshot(st), game.Action{Type: "deal"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Wager != 10 || out.Settle != game.SettleNone {
		t.Fatalf("deal takes the stake without settling: %+v", out)
	}
	st = apply(st, out)
	if c, _ := cardFromMap(st["current"]); c.String() != "♠A" {
		t.Fatalf("first card = %v", st["current"])
	}
	if _, err := h.Act(ctx, snapshot(st), game.Action{Type: "cashout"}); err == nil {
		t.Fatal("cashout before any guess should fail")
	}
	if _, err := h.Act(ctx, snapshot(st), game.Action{Type: "deal"}); err == nil {
		t.Fatal("second deal during a round should fail")
	}

	out, err = h.Act(ctx, snapshot(st), game.Action{Type: "higher"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Wager != 0 {
		t.Fatalf("a guess must not take another stake: %+v", out)
	}
	st = apply(st, out)
	if st["multiplier"] != 0.99 {
		t.Fatalf("multiplier after A→7 higher = %v", st["multiplier"])
	}

	out, err = h.Act(ctx, snapshot(st), game.Action{Type: "lower"})
	if err != nil {
		t.Fatal(err)
	}
	st = apply(st, out)
	if st["multiplier"] != 1.82 {
		t.Fatalf("multiplier after 7→7 lower = %v", st["multiplier"])
	}

	out, err = h.Act(ctx, snapshot(st), game.Action{Type: "cashout"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleWin || out.WinAmount != 18.2 || out.Stake != 10 || out.Wager != 0 {
		t.Fatalf("cashout = %+v", out)
	}
	st = apply(st, out)
	if st["active"] != false || st["rounds"] != 1 {
		t.Fatalf("round not closed: %v", st)
	}
}

func TestHiLoChance(t *testing.T) {
	tests := []struct {
		rank   int
		higher bool
		want   float64
	}{
		{1, true, 1},
		{13, true, 1.0 / 13},
		{1, false, 1.0 / 13},
		{13, false, 1},
		{7, true, 7.0 / 13},
	}
	for _, tt := range tests {
		if got := hiloChance(tt.rank, tt.higher); got != tt.want {
			t.Errorf("hiloChance(%d, %v) = %v, want %v", tt.rank, tt.higher, got, tt.want)
		}
	}
}

func TestCardMapping(t *testing.T) {
	if c := cardFromFloat(0); c.String() != "♦2" {
		t.Errorf("cardFromFloat(0) = %s", c)
	}
	if c := cardFromFloat(0.9999); c.String() != "♣A" {
		t.Errorf("cardFromFloat(~1) = %s", c)
	}
	for rank, want := range map[string]int{"A": 1, "2": 2, "10": 10, "J": 11, "K": 13, "?": 0} {
		if got := cardRankValue(rank); got != want {
			t.Errorf("cardRankValue(%s) = %d, want %d", rank, got, want)
		}
	}
}

func TestWheelSpin(t *testing.T) {
	w := NewWheel(NewRNG(testSeeds), 10)
	ctx := context.Background()
	st, _ := w.Setup(ctx, game.Env{})

	out, err := w.Act(ctx, snapshot(st), game.Action{Type: "spin"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleWin || out.WinAmount != 30 || out.Wager != 10 {
		t.Fatalf("segment 9 at medium pays 3x, got %+v", out)
	}
	out, err = w.Act(ctx, snapshot(apply(st, out)), game.Action{Type: "spin"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleLoss {
		t.Fatalf("segment 4 at medium pays nothing, got %+v", out)
	}
	if got := w.PotentialWin(10, domain.RiskHigh); got != 99 {
		t.Fatalf("potential win at high = %v", got)
	}
	if _, err := wheelSegments(25.0); err == nil {
		t.Fatal("expected error for 25 segments")
	}
}

func TestWheelTablesComplete(t *testing.T) {
	for segments, risks := range wheelPayouts {
		for _, risk := range domain.RiskLevels {
			if len(risks[risk]) != segments {
				t.Errorf("%d/%s has %d entries", segments, risk, len(risks[risk]))
			}
		}
	}
}

func TestClicker(t *testing.T) {
	c := NewClicker(nil)
	ctx := context.Background()
	st, _ := c.Setup(ctx, game.Env{})

	for i := 0; i < 10; i++ {
		out, err := c.Act(ctx, snapshot(st), game.Action{Type: "click"})
		if err != nil {
			t.Fatal(err)
		}
		st = apply(st, out)
	}
	if st["points"] != 10 {
		t.Fatalf("points = %v", st["points"])
	}

	out, err := c.Act(ctx, snapshot(st), game.Action{Type: "upgrade", Params: map[string]any{"kind": "click"}})
	if err != nil {
		t.Fatal(err)
	}
	st = apply(st, out)
	if st["points"] != 0 || st["perClick"] != 2 {
		t.Fatalf("after upgrade: %v", st)
	}
	if _, err := c.Act(ctx, snapshot(st), game.Action{Type: "upgrade"}); err == nil {
		t.Fatal("upgrade without points should fail")
	}
	if _, err := c.Act(ctx, snapshot(st), game.Action{Type: "collect"}); err == nil {
		t.Fatal("collect without points should fail")
	}

	out, _ = c.Act(ctx, snapshot(st), game.Action{Type: "click"})
	st = apply(st, out)
	out, err = c.Act(ctx, snapshot(st), game.Action{Type: "collect"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleWin || out.WinAmount != 0.02 || out.Wager != 0 {
		t.Fatalf("collect = %+v", out)
	}
}

func TestClickerTick(t *testing.T) {
	c := NewClicker(nil)
	st := game.State{"points": 5, "perSecond": 2}
	if _, changed := c.Tick(snapshot(st), 250*time.Millisecond); changed {
		t.Fatal("half a point should not change state")
	}
	out, changed := c.Tick(snapshot(st), 1250*time.Millisecond)
	if !changed || out.State["points"] != 8 {
		t.Fatalf("tick = %v %v", out.State, changed)
	}
	if _, changed := c.Tick(snapshot(game.State{"perSecond": 0}), time.Hour); changed {
		t.Fatal("no passive income without auto upgrades")
	}
}

type memAssets map[string]string

func (m memAssets) Read(_ context.Context, p string) ([]byte, error) {
	s, ok := m[p]
	if !ok {
		return nil, fmt.Errorf("no asset %s", p)
	}
	return []byte(s), nil
}

const coinScript = `
var actions = ["flip"];
var events = ["flipped"];

function setup(settings) {
	return { flips: 0, label: settings.label || "coin" };
}

function act(action, snap) {
	var heads = random() < 0.5;
	var out = {
		state: { flips: snap.state.flips + 1 },
		result: { heads: heads },
		events: [{ name: "flipped", data: { heads: heads } }]
	};
	if (heads) {
		out.settle = "win";
		out.winAmount = snap.bet * 2;
	} else {
		out.settle = "loss";
	}
	return out;
}

function potentialWin(bet, risk) { return bet * 2; }

function render(snap) { return { kind: "coin", flips: snap.state.flips }; }
`

func scriptEnv(src string) game.Env {
	m := &manifest.Manifest{ID: "coin", Version: "1.0.0", Name: "Coin", Main: "coin.js"}
	return game.Env{
		GameID:   m.ID,
		Manifest: m,
		Settings: map[string]any{"label": "lucky"},
		Loader:   memAssets{"coin.js": src},
	}
}

func TestScriptGame(t *testing.T) {
	s := NewScript(NewRNG(testSeeds), DefaultMultipliers, nil)
	ctx := context.Background()
	st, err := s.Setup(ctx, scriptEnv(coinScript))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if st["label"] != "lucky" {
		t.Fatalf("setup state = %v", st)
	}
	if got := s.Actions(); len(got) != 1 || got[0] != "flip" {
		t.Fatalf("actions = %v", got)
	}

	out, err := s.Act(ctx, snapshot(st), game.Action{Type: "flip"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleLoss || out.Stake != 10 || out.Wager != 10 {
		t.Fatalf("nonce 1 draws 0.967, tails: %+v", out)
	}
	if len(out.Events) != 1 || out.Events[0].Name != "flipped" {
		t.Fatalf("events = %+v", out.Events)
	}
	st = apply(st, out)

	out, err = s.Act(ctx, snapshot(st), game.Action{Type: "flip"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Settle != game.SettleWin || out.WinAmount != 20 {
		t.Fatalf("nonce 2 draws 0.455, heads: %+v", out)
	}
	if intOf(out.State["flips"]) != 2 {
		t.Fatalf("flips = %v", out.State["flips"])
	}

	if got := s.PotentialWin(7, domain.RiskLow); got != 14 {
		t.Fatalf("potentialWin = %v", got)
	}
	if scene := s.Render(snapshot(st)); scene["kind"] != "coin" {
		t.Fatalf("scene = %v", scene)
	}
}

func TestScriptWagerField(t *testing.T) {
	snap := snapshot(game.State{})
	cases := []struct {
		raw  map[string]any
		want float64
	}{
		{map[string]any{"settle": "none"}, 0},
		{map[string]any{"wager": true}, 10},
		{map[string]any{"wager": 4.0}, 4},
		{map[string]any{"settle": "loss", "wager": false, "stake": 6.0}, 0},
		{map[string]any{"settle": "win", "winAmount": 12.0}, 10},
	}
	for _, tc := range cases {
		out, err := outcomeFromScript(tc.raw, snap)
		if err != nil {
			t.Fatalf("%v: %v", tc.raw, err)
		}
		if out.Wager != tc.want {
			t.Errorf("%v: wager = %v, want %v", tc.raw, out.Wager, tc.want)
		}
	}
	for _, raw := range []map[string]any{{"wager": -1.0}, {"wager": 5000.0}} {
		if _, err := outcomeFromScript(raw, snap); !errors.Is(err, game.ErrInvalidAction) {
			t.Errorf("%v: expected ErrInvalidAction, got %v", raw, err)
		}
	}
}

func TestScriptSandbox(t *testing.T) {
	src := `
var actions = ["escape"];
function act() { require("fs"); return {}; }
`
	s := NewScript(NewRNG(testSeeds), DefaultMultipliers, nil)
	if _, err := s.Setup(context.Background(), scriptEnv(src)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Act(context.Background(), snapshot(game.State{}), game.Action{Type: "escape"}); err == nil {
		t.Fatal("require should be unavailable")
	}
}

func TestScriptTimeout(t *testing.T) {
	src := `
var actions = ["hang"];
function act() { while (true) {} }
`
	s := NewScript(NewRNG(testSeeds), DefaultMultipliers, nil)
	if _, err := s.Setup(context.Background(), scriptEnv(src)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Act(ctx, snapshot(game.State{}), game.Action{Type: "hang"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestScriptRequiresActions(t *testing.T) {
	for name, src := range map[string]string{
		"no actions": `function act() { return {}; }`,
		"no act":     `var actions = ["x"];`,
		"syntax":     `var actions = [`,
	} {
		s := NewScript(NewRNG(testSeeds), DefaultMultipliers, nil)
		if _, err := s.Setup(context.Background(), scriptEnv(src)); err == nil {
			t.Errorf("%s: expected setup error", name)
		}
	}
}

func TestRegisterAndRunThroughRuntime(t *testing.T) {
	reg := game.NewRegistry()
	Register(reg, Options{Seeds: func() Seeds { return testSeeds }})

	m := &manifest.Manifest{ID: "dice-game", Version: "1.0.0", Name: "Dice", Main: "dice.js"}
	rt, err := reg.Create(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	err = rt.Initialize(ctx, game.Config{
		Surface: game.NewMemorySurface(),
		Balance: 1000,
		Bet:     10,
		Risk:    domain.RiskMedium,
		Limits:  domain.Limits{MinBet: 1, MaxBet: 500, DefaultBet: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Destroy(ctx)
	if err := rt.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var wins []float64
	rt.AddEventListener(game.EventWin, func(e game.Event) { wins = append(wins, e.Data["amount"].(float64)) })
	res, err := rt.PerformAction(ctx, game.Action{Type: "roll"})
	if err != nil {
		t.Fatal(err)
	}
	if res.WinAmount != 30 || res.Balance != 1020 {
		t.Fatalf("result = %+v", res)
	}
	if len(wins) != 1 || wins[0] != 30 {
		t.Fatalf("win events = %v", wins)
	}

	for _, entry := range []string{"hilo", "wheel", "clicker", "simple", "custom.js"} {
		if _, err := reg.Resolve(entry); err != nil {
			t.Errorf("Resolve(%s): %v", entry, err)
		}
	}
}

func TestManifestSeedsAndMultipliers(t *testing.T) {
	opts := Options{Multipliers: DefaultMultipliers, Seeds: RandomSeeds}
	m := &manifest.Manifest{ID: "d", Config: &manifest.GameConfig{Settings: map[string]any{
		"serverSeed":      "test_server_seed",
		"clientSeed":      "test_client_seed",
		"riskMultipliers": map[string]any{"high": 10.0, "bogus": 2.0},
	}}}
	if got := DiceRoll(opts.rng(m).Float()); got != 96.71 {
		t.Fatalf("manifest seeds ignored: roll %v", got)
	}
	mult := opts.multipliers(m)
	if mult[domain.RiskHigh] != 10 || mult[domain.RiskLow] != 1.5 || len(mult) != 3 {
		t.Fatalf("multipliers = %v", mult)
	}
	if DefaultMultipliers[domain.RiskHigh] != 6 {
		t.Fatal("defaults mutated")
	}
}
