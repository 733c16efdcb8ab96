package render

import (
	"fmt"
	"math"
	"strings"
)

// eighths are the partial block glyphs, indexed by eighths filled.
var eighths = [...]string{" ", "▏", "▎", "▍", "▌", "▋", "▊", "▉", "█"}

// Bar draws pct of limit as a bar of width cells including the two '|'
// borders. With numeric set the percentage is overlaid in the middle.
func Bar(pct, limit float64, width int, numeric bool) string {
	inner := width - 2
	if inner <= 0 || limit <= 0 {
		return strings.Repeat(" ", max(width, 0))
	}

	const w = len(eighths) - 1
	filled := int(math.Ceil(float64(w) * pct * float64(inner) / limit))
	filled = min(max(filled, 0), w*inner)

	cells := make([]string, 0, inner)
	for ; filled >= w; filled -= w {
		cells = append(cells, eighths[w])
	}
	if filled > 0 {
		cells = append(cells, eighths[filled])
	}
	for len(cells) < inner {
		cells = append(cells, " ")
	}

	if numeric {
		label := fmt.Sprintf("%3.f%%", pct)
		if len(label) <= inner {
			start := (inner - len(label)) / 2
			for i := range len(label) {
				cells[start+i] = label[i : i+1]
			}
		}
	}

	return "|" + strings.Join(cells, "") + "|"
}
