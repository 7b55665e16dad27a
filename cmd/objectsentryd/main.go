//go:build cgo

// Command objectsentryd runs the object-detection camera pipeline:
// frame capture, detection, tracking, photo persistence, and live
// MJPEG streaming.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/objectsentry/objectsentry/internal/config"
	"github.com/objectsentry/objectsentry/internal/logging"
	"github.com/objectsentry/objectsentry/internal/orchestrator"
	"github.com/objectsentry/objectsentry/pkg/camera"
	"github.com/objectsentry/objectsentry/pkg/detector"
	"github.com/objectsentry/objectsentry/pkg/eventrecorder"
	"github.com/objectsentry/objectsentry/pkg/frameprocessor"
	"github.com/objectsentry/objectsentry/pkg/perfmon"
	"github.com/objectsentry/objectsentry/pkg/photopolicy"
	"github.com/objectsentry/objectsentry/pkg/streamserver"
	"github.com/objectsentry/objectsentry/pkg/tracker"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	maxFPS := flag.Float64("max-fps", 0, "Maximum FPS value stored in the config (overrides config); the loop's pace is set by analysis-rate-limit")
	minConfidence := flag.Float64("min-confidence", 0, "Minimum detection confidence (overrides config)")
	minFPSWarning := flag.Float64("min-fps-warning", 0, "FPS threshold below which a warning is logged (overrides config)")
	logFile := flag.String("log-file", "", "Path to append-only log file")
	heartbeatInterval := flag.Int("heartbeat-interval", 0, "Heartbeat log interval in minutes (overrides config)")
	cameraID := flag.Int("camera-id", -1, "Camera device index (overrides config)")
	frameWidth := flag.Int("frame-width", 0, "Target capture width (overrides config)")
	frameHeight := flag.Int("frame-height", 0, "Target capture height (overrides config)")
	modelPath := flag.String("model-path", "", "Path to detection model file")
	configPath := flag.String("config-path", "", "Path to TOML configuration file")
	classesPath := flag.String("classes-path", "", "Path to newline-delimited class names file")
	processingThreads := flag.Int("processing-threads", 0, "Worker pool size (overrides config)")
	enableGPU := flag.Bool("enable-gpu", false, "Prefer GPU inference backend")
	showPreview := flag.Bool("show-preview", false, "Show a local preview window (not supported headless)")
	enableStreaming := flag.Bool("enable-streaming", true, "Enable the live MJPEG stream server")
	streamingPort := flag.Int("streaming-port", 0, "Stream server port (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus /metrics server port (overrides config)")
	analysisRateLimit := flag.Float64("analysis-rate-limit", 0, "Target detections per second (overrides config)")
	enableBrightnessFilter := flag.Bool("enable-brightness-filter", false, "Attenuate overexposed frames")
	stationaryTimeoutSeconds := flag.Int("stationary-timeout-seconds", 0, "Stationary timeout in seconds, stored in the config; photo saving does not consult it")
	enableBurstMode := flag.Bool("enable-burst-mode", false, "React to new/changed objects with a faster detection cadence")
	outputDir := flag.String("output-dir", "", "Directory for saved detection photos (overrides config)")
	summaryIntervalMinutes := flag.Int("summary-interval-minutes", 0, "Periodic event summary interval in minutes (overrides config)")
	modelType := flag.String("model-type", "", "Detection backend identifier (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "objectsentryd - object-detection camera pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("objectsentryd version %s\n", version)
		return 0
	}

	enableStreamingSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "enable-streaming" {
			enableStreamingSet = true
		}
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}

	applyOverrides(cfg, overrideFlags{
		maxFPS: maxFPS, minConfidence: minConfidence, minFPSWarning: minFPSWarning,
		heartbeatInterval: heartbeatInterval, cameraID: cameraID, frameWidth: frameWidth,
		frameHeight: frameHeight, processingThreads: processingThreads,
		streamingPort: streamingPort, metricsPort: metricsPort, analysisRateLimit: analysisRateLimit,
		enableBrightnessFilter: enableBrightnessFilter, stationaryTimeoutSeconds: stationaryTimeoutSeconds,
		enableBurstMode: enableBurstMode, outputDir: outputDir,
		summaryIntervalMinutes: summaryIntervalMinutes,
		enableStreaming: enableStreaming, enableStreamingSet: enableStreamingSet,
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	if *showPreview {
		fmt.Fprintln(os.Stderr, "show-preview is not supported in the headless pipeline; ignoring")
	}

	logFileResolved := *logFile
	if logFileResolved == "" {
		logFileResolved = cfg.Logging.FilePath
	}
	logger, err := logging.NewWithFile(logFileResolved, logging.Info)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		return 1
	}

	cam := camera.New()
	if err := cam.Initialize(cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height); err != nil {
		logger.Errorf("failed to open camera: %v", err)
		return 1
	}
	defer cam.Release()

	modelPathResolved := *modelPath
	if modelPathResolved == "" {
		modelPathResolved = cfg.Detection.ModelPath
	}
	classesPathResolved := *classesPath
	if classesPathResolved == "" {
		classesPathResolved = cfg.Detection.ClassesPath
	}
	confThreshold := cfg.Detection.MinConfidence
	if *minConfidence > 0 {
		confThreshold = *minConfidence
	}
	modelTypeResolved := cfg.Detection.ModelType
	if *modelType != "" {
		modelTypeResolved = *modelType
	}
	gpuResolved := cfg.Detection.EnableGPU || *enableGPU

	det, err := detector.NewONNXDetector(modelPathResolved, classesPathResolved, confThreshold, modelTypeResolved, gpuResolved)
	if err != nil {
		logger.Errorf("failed to load detection model: %v", err)
		return 1
	}
	defer det.Close()
	if err := det.WarmUp(); err != nil {
		logger.Warnf("detector warm-up failed: %v", err)
	}

	policy, err := photopolicy.New(cfg.Output.Dir, logger)
	if err != nil {
		logger.Errorf("failed to initialize photo policy: %v", err)
		return 1
	}

	trk := tracker.New()

	processor := frameprocessor.New(frameprocessor.Options{
		Workers:                cfg.Processing.Threads,
		MaxQueueDepth:          cfg.Processing.MaxQueueDepth,
		EnableBrightnessFilter: cfg.Processing.EnableBrightnessFilter,
		ExtraClasses:           cfg.Detection.ExtraClasses,
		PhotoPolicy:            policy,
		Tracker:                trk,
		Detector:               det,
		Logger:                 logger,
		NightHourStart:         20,
		NightHourEnd:           6,
	})

	var streamSrv *streamserver.Server
	if cfg.Streaming.Enabled {
		streamSrv = streamserver.New(cfg.Streaming.Port, logger)
		if err := streamSrv.Initialize(); err != nil {
			logger.Errorf("failed to bind stream server: %v", err)
			return 1
		}
		if err := streamSrv.Start(); err != nil {
			logger.Errorf("failed to start stream server: %v", err)
			return 1
		}
		logger.Infof("stream available at http://0.0.0.0:%d/stream", cfg.Streaming.Port)
	}

	perf := perfmon.New(cfg.Detection.MinFPSWarning, logger)
	recorder := eventrecorder.New(func(summary string) { logger.Infof("%s", summary) })

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", perf.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Streaming.MetricsPort), Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warnf("metrics server error: %v", err)
		}
	}()
	defer metricsSrv.Close()
	logger.Infof("metrics available at http://0.0.0.0:%d/metrics", cfg.Streaming.MetricsPort)

	orch := orchestrator.New(cfg, cam, processor, trk, streamSrv, perf, recorder, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received signal %v, shutting down...", sig)
		orch.RequestShutdown()
	}()

	orch.Run()

	return 0
}

type overrideFlags struct {
	maxFPS, minConfidence, minFPSWarning, analysisRateLimit *float64
	heartbeatInterval, cameraID, frameWidth, frameHeight    *int
	processingThreads, streamingPort, metricsPort           *int
	stationaryTimeoutSeconds, summaryIntervalMinutes        *int
	enableBrightnessFilter, enableBurstMode, enableStreaming *bool
	enableStreamingSet                                       bool
	outputDir                                                *string
}

func applyOverrides(cfg *config.Config, f overrideFlags) {
	if *f.maxFPS > 0 {
		cfg.Detection.MaxFPS = *f.maxFPS
	}
	if *f.minConfidence > 0 {
		cfg.Detection.MinConfidence = *f.minConfidence
	}
	if *f.minFPSWarning > 0 {
		cfg.Detection.MinFPSWarning = *f.minFPSWarning
	}
	if *f.heartbeatInterval > 0 {
		cfg.Processing.HeartbeatIntervalMinutes = *f.heartbeatInterval
	}
	if *f.cameraID >= 0 {
		cfg.Camera.DeviceID = *f.cameraID
	}
	if *f.frameWidth > 0 {
		cfg.Camera.Width = *f.frameWidth
	}
	if *f.frameHeight > 0 {
		cfg.Camera.Height = *f.frameHeight
	}
	if *f.processingThreads > 0 {
		cfg.Processing.Threads = *f.processingThreads
	}
	if *f.streamingPort > 0 {
		cfg.Streaming.Port = *f.streamingPort
	}
	if *f.metricsPort > 0 {
		cfg.Streaming.MetricsPort = *f.metricsPort
	}
	if *f.analysisRateLimit > 0 {
		cfg.Processing.AnalysisRateLimit = *f.analysisRateLimit
	}
	if *f.enableBrightnessFilter {
		cfg.Processing.EnableBrightnessFilter = true
	}
	if *f.stationaryTimeoutSeconds > 0 {
		cfg.Processing.StationaryTimeoutSeconds = *f.stationaryTimeoutSeconds
	}
	if *f.enableBurstMode {
		cfg.Processing.EnableBurstMode = true
	}
	if *f.outputDir != "" {
		cfg.Output.Dir = *f.outputDir
	}
	if *f.summaryIntervalMinutes > 0 {
		cfg.Processing.SummaryIntervalMinutes = *f.summaryIntervalMinutes
	}
	if f.enableStreamingSet {
		cfg.Streaming.Enabled = *f.enableStreaming
	}
}
