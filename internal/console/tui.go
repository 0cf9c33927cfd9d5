package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
)

var (
	styleTitle   = tcell.StyleDefault.Foreground(tcell.ColorLightGreen).Bold(true)
	styleFocus   = tcell.StyleDefault.Reverse(true)
	styleThreat  = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	styleSafe    = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleWarning = tcell.StyleDefault.Foreground(tcell.ColorYellow)
)

// Run drives the console until the user quits or ctx is cancelled.
func Run(ctx context.Context, c *Console) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := s.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	for {
		Draw(s, c)
		s.Show()

		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch tev := ev.(type) {
			case *tcell.EventResize:
				s.Sync()
			case *tcell.EventKey:
				if c.HandleKey(ctx, tev.Key(), tev.Rune()) {
					return nil
				}
			}
		}
	}
}

func Draw(s tcell.Screen, c *Console) {
	s.Clear()
	w, _ := s.Size()
	p := c.Page()

	putString(s, 0, 0, truncate(p.Title, w), styleTitle)
	putString(s, 0, 1, truncate(p.Subtitle, w), tcell.StyleDefault)

	status := fmt.Sprintf("Engine: %s | Status: %s | Threshold: %s", p.Status.Engine, p.Status.Status, p.Status.Threshold)
	st := tcell.StyleDefault
	if !p.Status.Online {
		st = styleWarning
	}
	putString(s, 0, 3, truncate(status, w), st)
	putString(s, 0, 4, truncate("TAB/arrows move | digits edit | ENTER scan | Ctrl-R reset | ESC quit", w), tcell.StyleDefault)

	y := 6
	for i, f := range p.Fields {
		label := fmt.Sprintf("%-18s %-20s ", f.Group, f.Label)
		putString(s, 0, y, truncate(label, w), tcell.StyleDefault)
		style := tcell.StyleDefault
		if i == c.Focus() {
			style = styleFocus
		}
		putString(s, len(label), y, fmt.Sprintf(" %-20s", c.Buffer(i)), style)
		y++
	}
	y++

	if p.Error != "" {
		putString(s, 0, y, truncate(p.Error, w), styleWarning)
		y += 2
	}

	if p.Verdict == nil {
		return
	}
	v := p.Verdict
	headline := styleSafe
	if v.Suspicious {
		headline = styleThreat
	}
	sep := strings.Repeat("─", minInt(40, w))
	putString(s, 0, y, sep, tcell.StyleDefault)
	y++
	putString(s, 0, y, truncate(v.Headline, w), headline)
	y++
	putString(s, 0, y, truncate(v.Message, w), tcell.StyleDefault)
	y++
	putString(s, 0, y, truncate("Detection Source: "+v.SourceMessage, w), tcell.StyleDefault)
	y++
	putString(s, 0, y, truncate(fmt.Sprintf("%s: %s  %s", v.ConfidenceLabel, bar(v.Confidence, 20), v.ConfidenceText), w), tcell.StyleDefault)
	y++
	putString(s, 0, y, truncate(fmt.Sprintf("Risk Level: %s (%s)", v.RiskLevel, v.RiskDelta), w), headline)
	y += 2
	putString(s, 0, y, truncate(v.ActionsIntro, w), tcell.StyleDefault)
	y++
	for i, a := range v.Actions {
		putString(s, 2, y, truncate(fmt.Sprintf("%d. %s", i+1, a), w-2), tcell.StyleDefault)
		y++
	}
}

func bar(p float64, width int) string {
	n := int(p*float64(width) + 0.5)
	if n < 0 {
		n = 0
	}
	if n > width {
		n = width
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}

func putString(s tcell.Screen, x, y int, text string, style tcell.Style) {
	i := 0
	for _, r := range text {
		s.SetContent(x+i, y, r, nil, style)
		i++
	}
}

// truncate shortens s to w runes, marking the cut with "...".
func truncate(s string, w int) string {
	r := []rune(s)
	if w <= 0 || len(r) <= w {
		return s
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-3]) + "..."
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
