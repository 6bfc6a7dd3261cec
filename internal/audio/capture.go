// Package audio captures an input device with PortAudio and fans the stream
// out to visualization loops. The PortAudio callback is the audio context: it
// never blocks, locks or allocates. Analysis runs on its own goroutine.
package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/pcm"
)

var ErrNoInputDevice = errors.New("no suitable audio input device found")

// Target receives the captured stream for one visualization loop.
// Either field may be nil.
type Target struct {
	PCM      *pcm.Ring
	Windower *analyzer.Windower
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	// FramesPerBuffer is the callback block size. Zero selects 512; values
	// outside [64, 4096] let PortAudio choose.
	FramesPerBuffer int
	// Channels requested from the device; 1 is duplicated to stereo.
	Channels int
}

const (
	defaultFramesPerBuffer = 512
	maxCallbackFrames      = 4096
)

// Capture wraps a PortAudio input stream.
type Capture struct {
	log        zerolog.Logger
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo

	targets []Target
	scratch []float32
	pump    *analysisPump
	stop    chan struct{}
	done    chan struct{}

	callbacks atomic.Uint64
	frames    atomic.Uint64
}

// Open selects the input device without starting the stream, so callers can
// size their analyzers for SampleRate before calling Start.
func Open(cfg Config, log zerolog.Logger) (*Capture, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = pcm.Channels
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	channels := min(cfg.Channels, device.MaxInputChannels)

	c := &Capture{
		log:        log,
		sampleRate: device.DefaultSampleRate,
		channels:   channels,
		device:     device,
		scratch:    make([]float32, maxCallbackFrames*pcm.Channels),
	}

	framesPerBuffer := cfg.FramesPerBuffer
	if framesPerBuffer == 0 {
		framesPerBuffer = defaultFramesPerBuffer
	}
	if framesPerBuffer < 64 || framesPerBuffer > maxCallbackFrames {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c.stream = stream
	return c, nil
}

// Start begins delivering the stream to targets. The target list is fixed
// for the lifetime of the stream.
func (c *Capture) Start(targets ...Target) error {
	c.targets = targets
	for _, t := range targets {
		if t.PCM != nil {
			t.PCM.SetSampleRate(c.sampleRate)
		}
		if t.Windower != nil && c.pump == nil {
			c.pump = newAnalysisPump(targets, maxCallbackFrames)
		}
	}
	if c.pump != nil {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.pump.run(c.stop, c.done)
	}
	if err := c.stream.Start(); err != nil {
		c.stopAnalysis()
		return fmt.Errorf("start stream: %w", err)
	}
	c.log.Info().
		Str("device", c.device.Name).
		Float64("sampleRate", c.sampleRate).
		Int("channels", c.channels).
		Int("targets", len(targets)).
		Msg("audio capture started")
	return nil
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	c.stopAnalysis()
	err := c.stream.Close()
	c.stream = nil
	c.log.Info().Uint64("callbacks", c.callbacks.Load()).Uint64("frames", c.frames.Load()).Msg("audio capture stopped")
	return err
}

func (c *Capture) stopAnalysis() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
}

func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the PortAudio device associated with the capture stream.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

// process is the PortAudio callback.
func (c *Capture) process(in []float32) {
	c.callbacks.Add(1)
	framesIn := len(in) / c.channels
	c.frames.Add(uint64(framesIn))
	callbacksTotal.Inc()

	for done := 0; done < framesIn; {
		n := min(framesIn-done, maxCallbackFrames)
		chunk := in[done*c.channels : (done+n)*c.channels]
		stereo := c.scratch[:n*pcm.Channels]
		toStereo(stereo, chunk, c.channels)
		c.deliver(stereo, n)
		done += n
	}
}

func (c *Capture) deliver(stereo []float32, frames int) {
	for _, t := range c.targets {
		if t.PCM != nil {
			t.PCM.PushInterleaved(stereo, frames)
		}
	}
	if c.pump != nil && !c.pump.offer(stereo, frames) {
		blocksDropped.Inc()
	}
}

// toStereo converts interleaved frames with the given channel count into
// stereo. Mono is duplicated; extra channels beyond two are ignored.
func toStereo(dst, in []float32, channels int) int {
	if channels <= 0 {
		return 0
	}
	frames := min(len(in)/channels, len(dst)/pcm.Channels)
	for f := 0; f < frames; f++ {
		src := f * channels
		l := in[src]
		r := l
		if channels > 1 {
			r = in[src+1]
		}
		dst[f*2] = l
		dst[f*2+1] = r
	}
	return frames
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	defaultInput, defaultHost := defaultIndexes()
	if candidate := pickBestDevice(devices, defaultInput, defaultHost); candidate != nil {
		return candidate, nil
	}
	return nil, ErrNoInputDevice
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}

	return nil, fmt.Errorf("audio device %q: %w", name, ErrNoInputDevice)
}

func defaultIndexes() (input, host int) {
	input, host = -1, -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		input = def.Index
	}
	if h, err := portaudio.DefaultHostApi(); err == nil && h != nil && h.DefaultInputDevice != nil {
		host = h.DefaultInputDevice.Index
	}
	return input, host
}

var loopbackKeywords = []string{"monitor", "loopback", "mix", "stereo mix", "what u hear"}

func scoreDevice(d *portaudio.DeviceInfo, defaultInput, defaultHost int) int {
	score := d.MaxInputChannels
	if d.Index == defaultInput {
		score += 50
	}
	if d.Index == defaultHost {
		score += 40
	}

	lower := strings.ToLower(d.Name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			score += 20
			break
		}
	}
	if strings.Contains(lower, "default") {
		score += 10
	}
	return score
}

// pickBestDevice prefers default and loopback-style inputs; ties break on name.
func pickBestDevice(devices []*portaudio.DeviceInfo, defaultInput, defaultHost int) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var results []scored
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		results = append(results, scored{dev: d, score: scoreDevice(d, defaultInput, defaultHost)})
	}
	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})
	return results[0].dev
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping
// a stream that is already stopped or was never started.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "PaErrorCode -9986") || strings.Contains(msg, "PaErrorCode -9983")
}

// AutoDetectDevice returns the input device Open would pick without a name.
func AutoDetectDevice() (*portaudio.DeviceInfo, error) {
	return findDevice("")
}
