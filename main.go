package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/api"
	"github.com/vaultkeeperirl-design/PiCAM/audio"
	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/capture"
	"github.com/vaultkeeperirl-design/PiCAM/catalog"
	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/common/db"
	"github.com/vaultkeeperirl-design/PiCAM/config"
	"github.com/vaultkeeperirl-design/PiCAM/frames"
	"github.com/vaultkeeperirl-design/PiCAM/panel"
	"github.com/vaultkeeperirl-design/PiCAM/preview"
	"github.com/vaultkeeperirl-design/PiCAM/recording"
	"github.com/vaultkeeperirl-design/PiCAM/storage"
)

func main() {
	mode := flag.String("mode", "panel", "Run mode: panel, preview or diag")
	configPath := flag.String("config", "", "Config file path (default ~/.picam/config.json)")
	apiAddr := flag.String("api-addr", "", "HTTP API listen address, e.g. 127.0.0.1:8754 (empty disables)")

	// Config override flags
	device := flag.String("device", "", "Video device path (overrides config)")
	fps := flag.Int("fps", 0, "Capture frame rate (overrides config)")
	res := flag.String("res", "", "Capture resolution, e.g. 3840x2160 (overrides config)")
	format := flag.String("format", "", "Output format preset key (overrides config)")
	outdir := flag.String("outdir", "", "Clip output directory (overrides config)")
	audioDevice := flag.String("audio-device", "", "ALSA capture device, e.g. hw:2,0 (overrides config)")
	noAudio := flag.Bool("no-audio", false, "Record video-only")
	logDir := flag.String("log-dir", "", "Log directory (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	overrides := config.Overrides{AudioOff: *noAudio}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			overrides.Device = device
		case "fps":
			overrides.FPS = fps
		case "res":
			overrides.Resolution = res
		case "format":
			overrides.OutputFormat = format
		case "outdir":
			overrides.OutputDir = outdir
		case "audio-device":
			overrides.AudioDevice = audioDevice
		case "log-dir":
			overrides.LogDir = logDir
		case "log-level":
			overrides.LogLevel = logLevel
		}
	})

	path := *configPath
	if path == "" {
		path = config.DefaultPath()
	}

	store := config.NewStore(path, common.NopLogger)
	settings := store.Load(overrides)

	logger := common.CreateLogger(common.LogLevel(settings.LogLevel), settings.LogDir, "picam")
	logger.Info("Starting", "mode", *mode, "device", settings.Device,
		"resolution", settings.Resolution, "fps", settings.FPS, "format", settings.OutputFormat)

	if *mode == "diag" {
		os.Exit(runDiag(settings))
	}

	// Detect the camera microphone unless one was pinned by flag/config.
	if settings.AudioEnabled && settings.AudioDevice == "" {
		settings.AudioDevice = audio.Detect(context.Background(), logger)
	}

	state := camera.NewState(config.ToSnapshot(settings))
	controller := camera.NewV4L2Controller(settings.Device, logger)

	// Pull the real focus range off the device before anyone nudges it.
	if min, max, ok := controller.DetectFocusRange(context.Background()); ok {
		state.SetFocusRange(min, max)
	}
	if err := controller.Apply(context.Background(), state.Get()); err != nil {
		logger.Warn("Initial control push failed", "error", err)
	}

	// Clip catalog
	var clipRepo catalog.ClipRepository
	sqlDB := openCatalog(settings.CatalogPath, logger)
	if sqlDB != nil {
		repo, err := catalog.NewSQLiteClipRepository(sqlDB)
		if err != nil {
			logger.Error("Failed to initialize clip catalog", "error", err)
			sqlDB.Close()
			sqlDB = nil
		} else {
			clipRepo = repo
		}
	}

	supervisor := recording.NewSupervisor(state, clipRepo, recording.NewFFmpegProber(), logger)
	supervisor.StopTimeout = time.Duration(settings.StopTimeoutSeconds) * time.Second

	estimator := storage.NewEstimator()
	relay := frames.NewRelay()
	source := capture.NewGoCVSource(settings.Device, settings.Resolution, settings.FPS, logger)
	previewLoop := preview.NewLoop(state, relay, source, supervisor.Recording, logger)
	supervisor.DeviceYield = previewLoop.Yield

	window := panel.NewWindow("PiCAM")
	defer window.Close()

	var input panel.Input = window
	if *mode == "preview" {
		input = nopInput{}
	}
	panelLoop := panel.NewLoop(state, relay, input, window, controller, supervisor, estimator, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	panelLoop.OnQuit = cancel

	rig := &CaptureRig{
		state:       state,
		store:       store,
		settings:    settings,
		supervisor:  supervisor,
		previewLoop: previewLoop,
		panelLoop:   panelLoop,
		apiServer:   api.NewServer(state, supervisor, controller, estimator, clipRepo, logger),
		apiAddr:     *apiAddr,
		database:    sqlDB,
		logger:      logger,
	}

	if err := rig.Run(ctx); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

func openCatalog(path string, logger common.Logger) *sql.DB {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Error("Failed to create catalog directory", "error", err)
		return nil
	}
	sqlDB, err := db.OpenFile(path)
	if err != nil {
		logger.Error("Failed to open clip catalog", "path", path, "error", err)
		return nil
	}
	return sqlDB
}

// runDiag checks the rig's external dependencies and reports what a
// recording would use. Returns the process exit code.
func runDiag(settings config.Settings) int {
	ok := true

	for _, bin := range []string{"ffmpeg", "v4l2-ctl", "arecord"} {
		if path, err := exec.LookPath(bin); err == nil {
			fmt.Printf("ok      %-10s %s\n", bin, path)
		} else {
			fmt.Printf("MISSING %-10s\n", bin)
			ok = false
		}
	}

	if _, err := os.Stat(settings.Device); err == nil {
		fmt.Printf("ok      device     %s\n", settings.Device)
	} else {
		fmt.Printf("MISSING device     %s (%v)\n", settings.Device, err)
		ok = false
	}

	if out, err := exec.Command("v4l2-ctl", "-d", settings.Device, "--list-ctrls").Output(); err == nil {
		fmt.Printf("\ncamera controls:\n%s\n", out)
	}

	if dev := audio.Detect(context.Background(), common.NopLogger); dev != "" {
		fmt.Printf("ok      audio      %s\n", dev)
	} else {
		fmt.Println("warn    audio      no capture device, recording video-only")
	}

	if err := os.MkdirAll(settings.OutputDir, 0755); err != nil {
		fmt.Printf("MISSING outdir     %s (%v)\n", settings.OutputDir, err)
		ok = false
	} else {
		probe := filepath.Join(settings.OutputDir, ".picam-write-test")
		if err := os.WriteFile(probe, nil, 0644); err != nil {
			fmt.Printf("MISSING outdir     %s not writable (%v)\n", settings.OutputDir, err)
			ok = false
		} else {
			os.Remove(probe)
			fmt.Printf("ok      outdir     %s\n", settings.OutputDir)
		}
	}

	format, _ := camera.FormatByKey(settings.OutputFormat)
	est := storage.NewEstimator().Estimate(settings.OutputDir, format, settings.Resolution)
	if est.DurationKnown {
		fmt.Printf("ok      storage    %.1fGB free, ~%d minutes of %s\n",
			float64(est.FreeBytes)/(1024*1024*1024), est.Minutes, format.Label)
	} else {
		fmt.Printf("warn    storage    %.1fGB free, duration unknown\n",
			float64(est.FreeBytes)/(1024*1024*1024))
	}

	if !ok {
		return 1
	}
	return 0
}
