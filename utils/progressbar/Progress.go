// Package progressbar renders a single-line terminal progress bar for
// long training runs.
package progressbar

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Bar tracks progress through a fixed number of training iterations
// and redraws itself in place on each Display call. It keeps no
// goroutines; the caller decides when to redraw.
type Bar struct {
	width   int
	total   int
	current int
	start   time.Time
	out     io.Writer
}

// New returns a Bar that is width characters wide and fills after
// total Increment calls.
func New(width, total int) *Bar {
	return &Bar{
		width: width,
		total: total,
		start: time.Now(),
		out:   os.Stdout,
	}
}

// Increment records one completed iteration. Calls past total are
// ignored.
func (b *Bar) Increment() {
	if b.current < b.total {
		b.current++
	}
}

// Display redraws the bar on the current terminal line, with the
// completed fraction, iteration count, elapsed time, and a remaining
// time estimate once at least one iteration has finished.
func (b *Bar) Display() {
	fraction := float64(b.current) / float64(b.total)
	filled := int(fraction * float64(b.width))

	var line strings.Builder
	line.WriteString("|")
	line.WriteString(strings.Repeat("█", filled))
	line.WriteString(strings.Repeat(" ", b.width-filled))

	elapsed := time.Since(b.start).Truncate(time.Second)
	fmt.Fprintf(&line, "| [%.2f%% | %v/%v | elapsed: %v", fraction*100,
		b.current, b.total, elapsed)
	if b.current > 0 && b.current < b.total {
		remaining := time.Duration(float64(elapsed) /
			float64(b.current) * float64(b.total-b.current))
		fmt.Fprintf(&line, " | remaining: %v",
			remaining.Truncate(time.Second))
	}
	line.WriteString("]")

	fmt.Fprintf(b.out, "\n\033[1A\033[K%v", line.String())
}
