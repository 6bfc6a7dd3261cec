package render

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/preset"
)

// PresetDefinition is what the pattern engine reads from a preset file.
type PresetDefinition struct {
	Name      string
	Pattern   string
	ColorMode string
	// Palette is -1 unless the preset names one.
	Palette   int
	Params    map[params.ID]float64
}

// ParsePresetFile reads the preset at path.
func ParsePresetFile(path string) (PresetDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return PresetDefinition{}, fmt.Errorf("open preset: %w", err)
	}
	defer f.Close()
	return ParsePreset(preset.Name(path), f)
}

// ParsePreset reads key=value lines. Blank lines, [section] headers and lines
// starting with '#', ';' or "//" are skipped, as are keys the engine does not
// know. A known parameter key with a non-numeric value is an error.
func ParsePreset(name string, r io.Reader) (PresetDefinition, error) {
	def := PresetDefinition{Name: name, Palette: -1, Params: make(map[params.ID]float64)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' || line[0] == '[' || strings.HasPrefix(line, "//") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch strings.ToLower(key) {
		case "pattern":
			def.Pattern = strings.ToLower(value)
			continue
		case "colormode":
			def.ColorMode = value
			continue
		case "palette":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return def, fmt.Errorf("preset %s line %d: palette %q: %w", name, lineNo, value, strconv.ErrSyntax)
			}
			def.Palette = n
			continue
		}

		id := params.ID(key)
		if !params.Known(id) {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return def, fmt.Errorf("preset %s line %d: %s: %w", name, lineNo, key, err)
		}
		def.Params[id] = v
	}
	if err := scanner.Err(); err != nil {
		return def, fmt.Errorf("read preset %s: %w", name, err)
	}
	return def, nil
}
