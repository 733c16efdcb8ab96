package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/skobkin/intelgputop/internal/engine"
)

const (
	defaultWidth = 80
	pidWidth     = 7
	nameWidth    = 17
	minBarWidth  = 3
)

// ScreenOptions are the terminal geometry and the toggles that change the
// interactive layout.
type ScreenOptions struct {
	Width   int
	Height  int
	Message string
	Numeric bool
}

// Interactive draws full-screen frames on a terminal.
type Interactive struct {
	w      io.Writer
	header lipgloss.Style
	title  lipgloss.Style
}

// NewInteractive returns a screen renderer writing to w.
func NewInteractive(w io.Writer) *Interactive {
	r := lipgloss.NewRenderer(w)
	return &Interactive{
		w:      w,
		header: r.NewStyle().Reverse(true),
		title:  r.NewStyle().Bold(true),
	}
}

// Render clears the screen and draws f.
func (r *Interactive) Render(f Frame, opts ScreenOptions) error {
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}

	var lines []string
	lines = append(lines, strings.Split(ansi.Wrap(r.title.Render(headerLine(f)), width, ""), "\n")...)
	if opts.Message != "" {
		lines = append(lines, ">>> "+opts.Message)
	} else {
		lines = append(lines, "")
	}

	if f.hasIMC() {
		lines = append(lines,
			fmt.Sprintf("%15s %s %s", "IMC reads:", fmtMetric(f.IMCReads, "%8.0f"), f.IMCUnit),
			fmt.Sprintf("%15s %s %s", "IMC writes:", fmtMetric(f.IMCWrites, "%8.0f"), f.IMCUnit),
			"",
		)
	}

	lines = append(lines, r.engineLines(f, width, opts.Numeric)...)
	if len(f.Clients) > 0 {
		lines = append(lines, "")
		lines = append(lines, r.clientLines(f, width, opts.Numeric)...)
	}

	return r.flush(lines, width, opts.Height)
}

// RenderHelp draws the key reference screen.
func (r *Interactive) RenderHelp(opts ScreenOptions) error {
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}
	lines := []string{
		r.header.Render(padRight("Help for interactive commands", width)),
		"",
		"    '1'    Toggle between aggregated engine class and physical engine mode.",
		"    'n'    Toggle display of numeric client busyness overlay.",
		"    's'    Toggle between sort modes (runtime, total runtime, pid, client id).",
		"    'i'    Toggle display of clients which used no GPU time.",
		"    'H'    Toggle between per PID aggregation and individual clients.",
		"",
		"    'h' or 'q'    Exit interactive help.",
	}
	return r.flush(lines, width, opts.Height)
}

func (r *Interactive) flush(lines []string, width, height int) error {
	if height > 0 && len(lines) > height {
		lines = lines[:height]
	}
	var b strings.Builder
	b.WriteString(ansi.CursorHomePosition)
	b.WriteString(ansi.EraseEntireScreen)
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(ansi.Truncate(line, width, ""))
	}
	b.WriteByte('\n')
	_, err := io.WriteString(r.w, b.String())
	return err
}

func headerLine(f Frame) string {
	name := f.Device.Name
	if name == "" {
		name = f.Device.PCIID
	}
	node := f.Device.CardNode
	if node == "" {
		node = f.Device.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "intel-gpu-top: %s @ %s - %s/%s MHz; %s%% RC6",
		name, node,
		strings.TrimSpace(fmtMetric(f.FreqActual, "%4.0f")),
		strings.TrimSpace(fmtMetric(f.FreqRequested, "%4.0f")),
		strings.TrimSpace(fmtMetric(f.RC6, "%3.0f")),
	)
	if f.hasPower() {
		fmt.Fprintf(&b, "; %s/%s W",
			strings.TrimSpace(fmtMetric(f.PowerGPU, "%5.2f")),
			strings.TrimSpace(fmtMetric(f.PowerPkg, "%5.2f")),
		)
	}
	fmt.Fprintf(&b, "; %s irqs/s", strings.TrimSpace(fmtMetric(f.Interrupts, "%4.0f")))
	return b.String()
}

func (r *Interactive) engineLines(f Frame, width int, numeric bool) []string {
	labelWidth := len("ENGINES")
	for _, e := range f.Engines {
		labelWidth = max(labelWidth, ansi.StringWidth(e.Name))
	}

	prefix := func(label, busy string) string { return fmt.Sprintf("%*s %6s ", labelWidth, label, busy) }
	suffix := func(sema, wait string) string { return fmt.Sprintf(" %6s %6s", sema, wait) }
	barWidth := width - ansi.StringWidth(prefix("", "")) - ansi.StringWidth(suffix("", ""))

	head := prefix("ENGINES", "BUSY")
	if barWidth >= minBarWidth {
		head += strings.Repeat(" ", barWidth)
	}
	head += suffix("SEMA", "WAIT")

	lines := []string{r.header.Render(padRight(head, width))}
	for _, e := range f.Engines {
		line := prefix(e.Name, fmtPercent(e.Busy, "%5.1f%%"))
		if barWidth >= minBarWidth {
			line += Bar(e.Busy.Value, 100, barWidth, numeric)
		}
		line += suffix(fmtPercent(e.Sema, "%3.0f%%"), fmtPercent(e.Wait, "%3.0f%%"))
		lines = append(lines, line)
	}
	return lines
}

func (r *Interactive) clientLines(f Frame, width int, numeric bool) []string {
	prefix := func(pid, name string) string { return fmt.Sprintf("%*s %*s ", pidWidth, pid, nameWidth, name) }
	classes := f.Classes
	if len(classes) == 0 {
		return nil
	}
	colWidth := (width - ansi.StringWidth(prefix("", ""))) / len(classes)

	head := prefix("PID", "NAME")
	for _, info := range classes {
		label := info.Name
		if ansi.StringWidth(label) > colWidth-2 {
			label = info.Class.Short()
		}
		head += center(label, colWidth)
	}
	lines := []string{r.header.Render(padRight(head, width))}

	for _, c := range f.Clients {
		line := prefix(fmt.Sprint(c.PID), ansi.Truncate(c.Name, nameWidth, ""))
		for _, info := range classes {
			line += clientCell(c, info, colWidth, numeric)
		}
		lines = append(lines, line)
	}
	return lines
}

func clientCell(c ClientRow, info engine.ClassInfo, colWidth int, numeric bool) string {
	if colWidth < minBarWidth || int(info.Class) >= engine.NumClasses {
		return strings.Repeat(" ", max(colWidth, 0))
	}
	m := c.Busy[info.Class]
	if !m.OK {
		return strings.Repeat(" ", colWidth)
	}
	return Bar(m.Value, 100, colWidth, numeric)
}

func fmtMetric(m Metric, format string) string {
	s := fmt.Sprintf(format, m.Value)
	if !m.OK {
		return dashes(len(s))
	}
	return s
}

func fmtPercent(m Metric, format string) string {
	if !m.OK {
		return "-"
	}
	return fmt.Sprintf(format, m.Value)
}

func dashes(n int) string { return strings.Repeat("-", max(n, 1)) }

func padRight(s string, width int) string {
	if w := ansi.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return ansi.Truncate(s, width, "")
}

func center(s string, width int) string {
	w := ansi.StringWidth(s)
	if w >= width {
		return ansi.Truncate(s, width, "")
	}
	left := (width - w) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-w-left)
}
