package app

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/eiannone/keyboard"

	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/quality"
)

type inputKind int

const (
	inputNone inputKind = iota
	inputQuit
	inputRandomPreset
	inputQuality
	inputFPS
	inputBrightness
)

type inputEvent struct {
	kind  inputKind
	mode  quality.Mode
	delta float64
}

const (
	fpsStep        = 5
	brightnessStep = 0.1
)

// keyAction maps a key press to an input event.
func keyAction(char rune, key keyboard.Key) inputEvent {
	if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
		return inputEvent{kind: inputQuit}
	}
	switch char {
	case 'q', 'Q':
		return inputEvent{kind: inputQuit}
	case 'r', 'R':
		return inputEvent{kind: inputRandomPreset}
	case 'a', 'A':
		return inputEvent{kind: inputQuality, mode: quality.Auto}
	case '1':
		return inputEvent{kind: inputQuality, mode: quality.Low}
	case '2':
		return inputEvent{kind: inputQuality, mode: quality.Medium}
	case '3':
		return inputEvent{kind: inputQuality, mode: quality.High}
	case '+', '=':
		return inputEvent{kind: inputFPS, delta: fpsStep}
	case '-', '_':
		return inputEvent{kind: inputFPS, delta: -fpsStep}
	case ']':
		return inputEvent{kind: inputBrightness, delta: brightnessStep}
	case '[':
		return inputEvent{kind: inputBrightness, delta: -brightnessStep}
	}
	return inputEvent{}
}

// brightnessKnob is owned by the keyboard goroutine, the bridge's only
// producer.
type brightnessKnob struct {
	value  float64
	bridge *control.Bridge
}

func (k *brightnessKnob) nudge(delta float64) bool {
	k.value = math.Round(math.Min(3, math.Max(0, k.value+delta))*100) / 100
	return k.bridge.Post(params.Brightness, float32(k.value))
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Warn().Err(err).Msg("keyboard input disabled")
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		knob := &brightnessKnob{value: params.Defaults().Brightness, bridge: a.bridge}
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			evt := keyAction(char, key)
			switch evt.kind {
			case inputNone:
				continue
			case inputBrightness:
				knob.nudge(evt.delta)
				continue
			case inputQuit:
				events <- evt
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}

func clearScreen(w io.Writer) {
	io.WriteString(w, "\x1b[2J")
	moveCursorHome(w)
}

func moveCursorHome(w io.Writer) {
	io.WriteString(w, "\x1b[H")
}

func hideCursor(w io.Writer) {
	io.WriteString(w, "\x1b[?25l")
}

func showCursor(w io.Writer) {
	io.WriteString(w, "\x1b[?25h")
}

func enterAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?1049h")
}

func exitAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?1049l\x1b[0m")
}
