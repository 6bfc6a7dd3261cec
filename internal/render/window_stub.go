//go:build !sdl

package render

import (
	"errors"
	"image"
)

var ErrWindowClosed = errors.New("window closed")

var errNoSDL = errors.New("SDL backend not enabled; rebuild with -tags sdl")

// Window is unavailable without the sdl build tag.
type Window struct{}

func NewWindow(string, int, int) (*Window, error) { return nil, errNoSDL }

func (w *Window) Size() (int, int) { return 0, 0 }

func (w *Window) Present(*image.RGBA, string) error { return ErrWindowClosed }

func (w *Window) Close() error { return nil }

func SupportsSDL() bool { return false }
