package sim

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var lang = language.English

func (r Report) rows() ([]string, map[string]string) {
	p := message.NewPrinter(lang)
	vals := map[string]string{
		"Game":        p.Sprintf("%s (%s)", r.Name, r.GameID),
		"Action":      r.Action,
		"Risk":        string(r.Risk),
		"Rounds":      p.Sprintf("%d", r.Rounds),
		"Total Bet":   p.Sprintf("%.2f", r.TotalBet),
		"Total Won":   p.Sprintf("%.2f", r.TotalWin),
		"RTP":         p.Sprintf("%.2f %%", 100*r.RTP),
		"RTP 95% CI":  p.Sprintf("[%.2f%%,%.2f%%]", 100*r.CILo, 100*r.CIHi),
		"Hit Rate":    p.Sprintf("%.2f %%", 100*r.HitRate),
		"STD":         p.Sprintf("%.3f", r.StdDev),
		"Best Return": p.Sprintf("%.2fx", r.MaxMulti),
	}
	keys := []string{"Game", "Action", "Risk", "Rounds", "Total Bet", "Total Won", "RTP", "RTP 95% CI", "Hit Rate", "STD", "Best Return"}
	return keys, vals
}

// Table renders the report as a boxed two-column table.
func (r Report) Table() string {
	keys, vals := r.rows()
	return table(r.Name, keys, vals)
}

// Throughput is a one-line timing summary.
func (r Report) Throughput() string {
	p := message.NewPrinter(lang)
	sec := r.Used.Seconds()
	if sec <= 0 {
		sec = 1e-9
	}
	return p.Sprintf("used: %.2f seconds, %d rounds/sec", r.Used.Seconds(), int(float64(r.Rounds)/sec))
}

func table(title string, keys []string, vals map[string]string) string {
	keyW, valW := 0, 0
	for _, k := range keys {
		keyW = max(keyW, runewidth.StringWidth(k))
		valW = max(valW, runewidth.StringWidth(vals[k]))
	}
	keyW += 2
	valW += 2
	inner := keyW + valW + 1
	if tw := runewidth.StringWidth(title); tw > inner {
		valW += tw - inner
		inner = tw
	}

	var b strings.Builder
	top := "+" + strings.Repeat("-", inner) + "+\n"
	divider := "+" + strings.Repeat("-", keyW) + "+" + strings.Repeat("-", valW) + "+\n"

	left := (inner - runewidth.StringWidth(title)) / 2
	b.WriteString(top)
	fmt.Fprintf(&b, "|%s|\n", runewidth.FillRight(blank(left)+title, inner))
	b.WriteString(divider)
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %s |\n",
			runewidth.FillRight(k, keyW-2),
			runewidth.FillRight(vals[k], valW-2))
	}
	b.WriteString(divider)
	return b.String()
}

func blank(w int) string {
	if w < 1 {
		return ""
	}
	return strings.Repeat(" ", w)
}
