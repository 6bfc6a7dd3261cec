package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extension is the only preset file extension the loop accepts.
const Extension = ".milk"

// PaletteCount is the number of fallback palettes a preset can map to.
const PaletteCount = 5

var (
	ErrNotFound             = errors.New("preset file not found")
	ErrUnsupportedExtension = errors.New("unsupported preset extension")
)

// Validate checks that path names an existing regular file with the preset
// extension.
func Validate(path string) error {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		return fmt.Errorf("%s: %w", path, ErrUnsupportedExtension)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("stat preset: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}
	return nil
}

// Name is the file name without directory or extension.
func Name(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ModTime returns the file's modification time, or the zero time when the
// file cannot be stat'ed.
func ModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Compute derives fresh metadata for path. RefCount is left at zero.
func Compute(path string) Metadata {
	name := Name(path)
	return Metadata{
		Name:         name,
		PaletteIndex: DerivePaletteIndex(name),
		LastModified: ModTime(path),
	}
}

// Stale reports whether cached metadata no longer matches the file on disk.
func Stale(meta Metadata, path string) bool {
	return !meta.LastModified.Equal(ModTime(path))
}

// Resolve takes a reference on path and returns metadata that matches the
// file's current timestamp. A stale hit is recomputed and written back with
// its reference count intact.
func (c *Cache) Resolve(path string) Metadata {
	meta := c.AddRef(path)
	if !Stale(meta, path) {
		return meta
	}
	fresh := Compute(path)
	c.Upsert(path, fresh)
	if current, ok := c.Get(path); ok {
		return current
	}
	fresh.RefCount = meta.RefCount
	return fresh
}

// hashName is a 31-multiplier rolling hash over the characters of s, with
// 32-bit wraparound.
func hashName(s string) int32 {
	var h int32
	for _, c := range s {
		h = 31*h + c
	}
	return h
}

// DerivePaletteIndex maps a preset name to one of PaletteCount palettes.
// A name whose hash equals the hash of the empty string maps to palette 0.
func DerivePaletteIndex(name string) int {
	h := hashName(name)
	if h == hashName("") {
		return 0
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % PaletteCount)
}
