package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guidoenr/vizcore/internal/app"
	"github.com/guidoenr/vizcore/internal/audio"
	"github.com/guidoenr/vizcore/internal/logging"
	"github.com/guidoenr/vizcore/internal/quality"
	"github.com/guidoenr/vizcore/internal/render"
	"github.com/guidoenr/vizcore/internal/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		deviceName  = flag.String("audio-device", "", "Optional PortAudio device name (substring match)")
		listDevs    = flag.Bool("list-audio-devices", false, "List available audio input devices and exit")
		noAudio     = flag.Bool("no-audio", false, "Run with a synthetic signal instead of capture")
		targetFPS   = flag.Float64("fps", 60, "Target frames per second (1-240)")
		width       = flag.Int("width", 0, "Render surface width (0 follows the terminal)")
		height      = flag.Int("height", 0, "Render surface height (0 follows the terminal)")
		qualityMode = flag.String("quality", "auto", "Quality mode (auto|low|medium|high)")
		presetPath  = flag.String("preset", "", "Preset file (.milk) to load at startup")
		presetDir   = flag.String("preset-dir", "", "Directory of presets for random selection (r)")
		engineName  = flag.String("engine", "pattern", "Rendering engine (pattern|fallback)")
		instances   = flag.Int("instances", 1, "Visualizer instances sharing one preset cache")
		webPort     = flag.Int("web-port", 0, "Serve the web UI, API and /metrics on this port (0 disables)")
		window      = flag.Bool("window", false, "Also present frames in an SDL window (sdl builds only)")
		palette     = flag.String("palette", "default", "Terminal glyph palette ("+strings.Join(render.PaletteNames(), "|")+")")
		noColor     = flag.Bool("no-color", false, "Disable ANSI color output")
		showStatus  = flag.Bool("status", true, "Display status bar")
		debug       = flag.Bool("debug", false, "Enable verbose logging")
		profilePath = flag.String("profile", "", "Write per-frame section timings of the first instance as CSV")
	)
	flag.Parse()

	logger := logging.New(logging.Options{Debug: *debug})
	log := logging.Component(logger, "main")

	mode, err := quality.ParseMode(*qualityMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -quality")
	}
	if *targetFPS <= 0 {
		log.Fatal().Float64("fps", *targetFPS).Msg("fps must be positive")
	}
	if *width < 0 || *height < 0 {
		log.Fatal().Int("width", *width).Int("height", *height).Msg("invalid dimensions")
	}
	if *instances < 1 {
		log.Fatal().Int("instances", *instances).Msg("instances must be at least 1")
	}
	if *window && !render.SupportsSDL() {
		log.Warn().Msg("-window ignored: built without the sdl tag")
		*window = false
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	needAudio := !*noAudio || *listDevs
	if needAudio {
		if err := audio.Initialize(); err != nil {
			log.Error().Err(err).Msg("failed to initialize PortAudio")
			return 1
		}
		defer audio.Terminate()
	}

	if *listDevs {
		if err := listDevices(); err != nil {
			log.Error().Err(err).Msg("list devices")
			return 1
		}
		return 0
	}

	a, err := app.New(app.Config{
		DeviceName:    *deviceName,
		Width:         *width,
		Height:        *height,
		TargetFPS:     *targetFPS,
		Quality:       mode,
		PresetPath:    *presetPath,
		PresetDir:     *presetDir,
		Engine:        *engineName,
		Instances:     *instances,
		DisableAudio:  *noAudio,
		ShowStatusBar: *showStatus,
		Palette:       *palette,
		UseANSI:       !*noColor,
		Window:        *window,
		ProfilePath:   *profilePath,
		Logger:        logger,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create app")
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("cleanup error")
		}
	}()

	if *webPort > 0 {
		srv := web.NewServer(a.Loops(), logging.Component(logger, "web"), web.Options{Presets: a.Presets()})
		go func() {
			if err := srv.Start(ctx, fmt.Sprintf(":%d", *webPort)); err != nil {
				log.Error().Err(err).Msg("web server stopped")
			}
		}()
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("runtime error")
		return 1
	}
	return 0
}

func listDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	if err := audio.WriteDevices(os.Stdout, devices); err != nil {
		return err
	}
	if dev, err := audio.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
	return nil
}
