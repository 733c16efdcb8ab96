package render

import (
	"fmt"
	"io"
	"strings"
)

// DefaultHeaderEvery is how often the line renderer repeats its header.
const DefaultHeaderEvery = 20

type column struct {
	name   string
	width  int
	format string
	value  Metric
}

type group struct {
	name string
	cols []column
}

func (g group) width() int {
	w := len(g.cols) - 1
	for _, c := range g.cols {
		w += c.width
	}
	return w
}

// Lines writes one fixed-width text line per frame and a two-row header
// every few frames.
type Lines struct {
	w     io.Writer
	every int
	ticks int
}

// NewLines returns a line renderer repeating its header every n frames.
func NewLines(w io.Writer, every int) *Lines {
	if every <= 0 {
		every = DefaultHeaderEvery
	}
	return &Lines{w: w, every: every}
}

// Render writes f as one line.
func (l *Lines) Render(f Frame) error {
	groups := lineGroups(f)

	var b strings.Builder
	if l.ticks%l.every == 0 {
		writeGroupHeader(&b, groups)
	}
	l.ticks++

	for gi, g := range groups {
		for ci, c := range g.cols {
			if gi > 0 || ci > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(formatColumn(c))
		}
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(l.w, b.String()); err != nil {
		return err
	}
	return flush(l.w)
}

func lineGroups(f Frame) []group {
	groups := []group{
		{"Freq MHz", []column{
			{"req", 4, "%4.0f", f.FreqRequested},
			{"act", 4, "%4.0f", f.FreqActual},
		}},
		{"IRQ", []column{{"/s", 4, "%4.0f", f.Interrupts}}},
		{"RC6", []column{{"%", 3, "%3.0f", f.RC6}}},
		{"Power W", []column{
			{"gpu", 5, "%5.2f", f.PowerGPU},
			{"pkg", 5, "%5.2f", f.PowerPkg},
		}},
		{"IMC " + f.IMCUnit, []column{
			{"rd", 5, "%5.0f", f.IMCReads},
			{"wr", 5, "%5.0f", f.IMCWrites},
		}},
	}
	for _, e := range f.Engines {
		groups = append(groups, group{e.Short, []column{
			{"%", 6, "%6.2f", e.Busy},
			{"se", 3, "%3.0f", e.Sema},
			{"wa", 3, "%3.0f", e.Wait},
		}})
	}
	return groups
}

func writeGroupHeader(b *strings.Builder, groups []group) {
	for i, g := range groups {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(center(g.name, g.width()))
	}
	b.WriteByte('\n')

	for gi, g := range groups {
		for ci, c := range g.cols {
			if gi > 0 || ci > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "%*s", c.width, c.name)
		}
	}
	b.WriteByte('\n')
}

func formatColumn(c column) string {
	if !c.value.OK {
		return dashes(c.width)
	}
	return fmt.Sprintf(c.format, c.value.Value)
}

type flusher interface {
	Flush() error
}

func flush(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
