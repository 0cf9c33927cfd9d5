package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"

	"wafshield/internal/artifacts"
	"wafshield/internal/model"
	"wafshield/internal/render"
	"wafshield/internal/session"
)

// maxDigits keeps edited values inside int64.
const maxDigits = 18

type Scanner interface {
	session.Scorer
	Status() artifacts.Result
}

// Console is the terminal rendition of one session: four editable fields,
// a scan action and a reset action.
type Console struct {
	state   *session.State
	scanner Scanner
	buffers [4]string
	focus   int
	quit    bool
}

func New(st *session.State, scanner Scanner) *Console {
	c := &Console{state: st, scanner: scanner}
	c.loadInputs()
	return c
}

func (c *Console) loadInputs() {
	for i, f := range render.Fields(c.state.Snapshot().Inputs) {
		c.buffers[i] = strconv.FormatInt(f.Value, 10)
	}
}

func (c *Console) Focus() int {
	return c.focus
}

func (c *Console) Buffer(i int) string {
	return c.buffers[i]
}

func (c *Console) Done() bool {
	return c.quit
}

// Page is what the next frame shows.
func (c *Console) Page() render.Page {
	return render.FromSnapshot(c.state.Snapshot(), c.scanner.Status().State != artifacts.StateAbsent)
}

// HandleKey applies one keystroke. It reports whether the console should exit.
func (c *Console) HandleKey(ctx context.Context, key tcell.Key, r rune) bool {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		c.quit = true
	case tcell.KeyTab, tcell.KeyDown:
		c.focus = (c.focus + 1) % len(c.buffers)
	case tcell.KeyBacktab, tcell.KeyUp:
		c.focus = (c.focus + len(c.buffers) - 1) % len(c.buffers)
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if b := c.buffers[c.focus]; b != "" {
			c.buffers[c.focus] = b[:len(b)-1]
		}
	case tcell.KeyEnter:
		c.scan(ctx)
	case tcell.KeyCtrlR:
		c.state.Reset()
		c.loadInputs()
	case tcell.KeyRune:
		switch {
		case r >= '0' && r <= '9':
			if len(c.buffers[c.focus]) < maxDigits {
				c.buffers[c.focus] = strings.TrimLeft(c.buffers[c.focus], "0") + string(r)
			}
		case r == 'q':
			c.quit = true
		}
	}
	return c.quit
}

func (c *Console) scan(ctx context.Context) {
	in, err := c.sample()
	if err != nil {
		c.state.SetError("Error: " + err.Error())
		return
	}
	// the session keeps the message for the page
	_ = c.state.SetAndScan(ctx, in, c.scanner)
}

func (c *Console) sample() (model.TrafficSample, error) {
	var vals [4]int64
	for i, f := range render.Fields(model.TrafficSample{}) {
		raw := c.buffers[i]
		if raw == "" {
			raw = "0"
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.TrafficSample{}, fmt.Errorf("%s must be a whole number", f.Key)
		}
		vals[i] = n
	}
	return model.TrafficSample{BytesIn: vals[0], BytesOut: vals[1], DstPort: vals[2], TimeTaken: vals[3]}, nil
}
