package render

var (
	defaultPalette = []rune("  .,:-;+=*%#@▒▓█")
	boxPalette     = []rune(" ░▒▓█")
	linesPalette   = []rune(" `.-=+*/\\|╱╲╳╬")
	sparkPalette   = []rune("  ´`^\"~:;*+×•°oO@#█")
	blockPalette   = []rune(" ▁▂▃▄▅▆▇█")
)

// Palette returns the glyph ramp used for brightness mapping in text output.
func Palette(name string) []rune {
	switch name {
	case "box":
		return boxPalette
	case "lines":
		return linesPalette
	case "spark":
		return sparkPalette
	case "block":
		return blockPalette
	default:
		return defaultPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"default", "box", "lines", "spark", "block"}
}

// Glyph picks the palette rune for a brightness in [0, 1].
func Glyph(palette []rune, brightness float64) rune {
	if len(palette) == 0 {
		return ' '
	}
	index := clampInt(int(clamp01(brightness)*float64(len(palette)-1)+0.5), 0, len(palette)-1)
	return palette[index]
}
