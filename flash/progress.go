package flash

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// RenderProgress draws a bar of the given width with the percentage written
// over its middle, e.g. " [####  50%     ]"
func RenderProgress(done, total, width int) string {
	full := max(width-2, 1)

	percent := 100
	if total > 0 {
		done = clamp(done, 0, total)
		percent = int(math.Round(float64(done) / float64(total) * 100))
	}

	hashes := int(math.Round(float64(percent) / 100 * float64(full)))
	bar := " [" + strings.Repeat("#", hashes) + strings.Repeat(" ", full-hashes) + "]"

	digits := strconv.Itoa(percent)
	label := " " + digits + "% "

	place := len(bar)/2 - len(digits)
	if place < 0 || place+len(label) > len(bar) {
		return bar
	}

	return bar[:place] + label + bar[place+len(label):]
}

// NewProgressBar returns a ProgressFunc that redraws a bar on w, ending the
// line once the pass is complete
func NewProgressBar(w io.Writer, width int) ProgressFunc {
	return func(done, total int) {
		fmt.Fprint(w, RenderProgress(done, total, width), "\r")
		if done >= total {
			fmt.Fprintln(w)
		}
	}
}
