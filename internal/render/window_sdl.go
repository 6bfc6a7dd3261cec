//go:build sdl

package render

import (
	"errors"
	"fmt"
	"image"

	"github.com/veandco/go-sdl2/sdl"
)

var ErrWindowClosed = errors.New("window closed")

// Window presents RGBA frames through an SDL streaming texture. It must be
// used from a single goroutine, the one that created it.
type Window struct {
	window      *sdl.Window
	renderer    *sdl.Renderer
	texture     *sdl.Texture
	width       int
	height      int
	windowTitle string
}

// NewWindow opens a resizable window of the given size.
func NewWindow(title string, width, height int) (*Window, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("window %dx%d: %w", width, height, ErrInvalidDimensions)
	}
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}
	window, err := sdl.CreateWindow(
		title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(width), int32(height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
	)
	if err != nil {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, fmt.Errorf("sdl create window: %w", err)
	}
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		window.Destroy()
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, fmt.Errorf("sdl create renderer: %w", err)
	}
	return &Window{window: window, renderer: renderer, windowTitle: title}, nil
}

// Size returns the current drawable size in pixels.
func (w *Window) Size() (int, int) {
	if w.window == nil {
		return 0, 0
	}
	width, height := w.window.GetSize()
	return int(width), int(height)
}

func (w *Window) ensureTexture(width, height int) error {
	if w.texture != nil && w.width == width && w.height == height {
		return nil
	}
	if w.texture != nil {
		w.texture.Destroy()
		w.texture = nil
	}
	tex, err := w.renderer.CreateTexture(
		sdl.PIXELFORMAT_ABGR8888,
		sdl.TEXTUREACCESS_STREAMING,
		int32(width), int32(height),
	)
	if err != nil {
		return fmt.Errorf("sdl create texture: %w", err)
	}
	w.texture = tex
	w.width = width
	w.height = height
	return nil
}

// Present uploads img, stretches it over the window and pumps window events.
// It returns ErrWindowClosed once the user closes the window.
func (w *Window) Present(img *image.RGBA, title string) error {
	if w.window == nil {
		return ErrWindowClosed
	}
	b := img.Bounds()
	if err := w.ensureTexture(b.Dx(), b.Dy()); err != nil {
		return err
	}
	if title != "" && title != w.windowTitle {
		w.window.SetTitle(title)
		w.windowTitle = title
	}
	if err := w.upload(img); err != nil {
		return err
	}
	if err := w.renderer.Clear(); err != nil {
		return err
	}
	if err := w.renderer.Copy(w.texture, nil, nil); err != nil {
		return err
	}
	w.renderer.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return ErrWindowClosed
		}
	}
	return nil
}

func (w *Window) upload(img *image.RGBA) error {
	pixels, pitch, err := w.texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("sdl texture lock: %w", err)
	}
	rowBytes := w.width * 4
	for y := 0; y < w.height; y++ {
		copy(pixels[y*pitch:y*pitch+rowBytes], img.Pix[y*img.Stride:y*img.Stride+rowBytes])
	}
	w.texture.Unlock()
	return nil
}

func (w *Window) Close() error {
	if w.texture != nil {
		w.texture.Destroy()
		w.texture = nil
	}
	if w.renderer != nil {
		w.renderer.Destroy()
		w.renderer = nil
	}
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
	}
	return nil
}

func SupportsSDL() bool { return true }
