package render

import (
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"
)

// Terminal maps RGBA frames onto a character grid, one glyph per cell,
// optionally colored with 256-color ANSI escapes.
type Terminal struct {
	palette []rune
	useANSI bool
}

func NewTerminal(paletteName string, useANSI bool) *Terminal {
	return &Terminal{palette: Palette(paletteName), useANSI: useANSI}
}

// Lines samples img at cols x rows and returns one string per row.
func (t *Terminal) Lines(img *image.RGBA, cols, rows int) ([]string, error) {
	if img == nil || cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("terminal %dx%d: %w", cols, rows, ErrInvalidDimensions)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("terminal source %dx%d: %w", w, h, ErrInvalidDimensions)
	}

	lines := make([]string, rows)
	numWorkers := min(runtime.GOMAXPROCS(0), rows)

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rowJobs {
				lines[y] = t.row(img, y, cols, rows, w, h)
			}
		}()
	}
	for y := 0; y < rows; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()
	return lines, nil
}

func (t *Terminal) row(img *image.RGBA, y, cols, rows, w, h int) string {
	var builder strings.Builder
	builder.Grow(cols * 8)
	sy := min(h-1, y*h/rows)
	lastColor := -1
	for x := 0; x < cols; x++ {
		sx := min(w-1, x*w/cols)
		o := sy*img.Stride + sx*4
		r := float64(img.Pix[o]) / 255
		g := float64(img.Pix[o+1]) / 255
		bl := float64(img.Pix[o+2]) / 255
		luma := 0.2126*r + 0.7152*g + 0.0722*bl
		if t.useANSI {
			if c := rgbToANSI(r, g, bl); c != lastColor {
				builder.WriteString(colorCode(c))
				lastColor = c
			}
		}
		builder.WriteRune(Glyph(t.palette, luma))
	}
	if t.useANSI {
		builder.WriteString(resetANSI)
	}
	return builder.String()
}
