// roomscan drives a pan/tilt camera rig: it sweeps the room for people,
// follows them while they stay, and learns where they tend to appear.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-panscan/internal/config"
	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/publish"
	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/servo"
	"github.com/teslashibe/go-panscan/pkg/vision/detection"
	"github.com/teslashibe/go-panscan/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults plus PANSCAN_* env when empty)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	noWeb := flag.Bool("no-web", false, "Disable the status API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, !*noWeb && cfg.Web.Enabled); err != nil {
		log.Error("roomscan failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, withWeb bool) error {
	det := detection.DefaultConfig()
	det.PersonModelPath = cfg.Camera.PersonModelPath
	det.FaceModelPath = cfg.Camera.FaceModelPath
	det.NMSThresh = cfg.Camera.NMSThreshold

	camera, err := detection.OpenCamera(detection.CameraConfig{
		Source:      cfg.Camera.Source,
		FrameWidth:  cfg.Camera.FrameWidth,
		FrameHeight: cfg.Camera.FrameHeight,
		FOV:         cfg.Camera.FOV,
	}, det)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer camera.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	heat := heatmap.Load(ctx, store, cfg.HeatMapConfig())

	var notifiers scanner.MultiNotifier

	var server *web.Server
	if withWeb {
		server = web.NewServer(":"+cfg.Web.Port, nil, heat)
		notifiers = append(notifiers, server)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := publish.Connect(cfg.PublishConfig())
		if err != nil {
			log.Warn("mqtt unavailable, events will not be published", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer pub.Close()
			go pub.Run(ctx)
			notifiers = append(notifiers, pub)
		}
	}

	orch, err := scanner.New(scanner.Deps{
		Camera:   camera,
		Servo:    servo.NewHTTPController(cfg.Servo.URL, cfg.ServoConfig()),
		HeatMap:  heat,
		Store:    store,
		Notifier: notifiers,
	}, cfg.ScannerConfig())
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}

	if server != nil {
		server.AttachStatus(orch)
		server.StartAsync()
		defer server.Shutdown()
	}

	log.Info("roomscan started",
		"camera", cfg.Camera.Source,
		"servo", cfg.Servo.URL,
		"store", cfg.HeatMap.Store,
		"buckets", heat.Len())
	return orch.Run(ctx)
}

// openStore returns nil when persistence is disabled.
func openStore(cfg config.Config) (heatmap.Store, error) {
	switch cfg.HeatMap.Store {
	case config.StoreFile:
		return heatmap.NewFileStore(cfg.HeatMap.Path), nil
	case config.StoreRedis:
		return heatmap.DialRedis(cfg.HeatMap.RedisAddr, cfg.HeatMap.RedisPassword, cfg.HeatMap.RedisDB, cfg.HeatMap.RedisKey), nil
	case config.StoreNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown heat map store %q", cfg.HeatMap.Store)
}
