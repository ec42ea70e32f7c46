// scansim runs the scanner against a simulated room: people stand or walk
// at world angles, the camera renders them relative to the simulated pan and
// the servo moves instantly (or with -move-time).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/teslashibe/go-panscan/internal/config"
	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/servo"
	"github.com/teslashibe/go-panscan/pkg/vision"
	"github.com/teslashibe/go-panscan/pkg/web"
)

// walker is one simulated person.
type walker struct {
	Angle float64 // world angle at start (degrees)
	Speed float64 // degrees per second
}

// room renders walkers into frames.
type room struct {
	mu      sync.Mutex
	walkers []walker
	start   time.Time
	fov     float64
	width   int
	height  int
	panMin  float64
	panMax  float64
}

// frameAt renders every walker inside the field of view at pan.
func (r *room) frameAt(pan float64) vision.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.start).Seconds()
	w, h := float64(r.width), float64(r.height)
	boxW, boxH := w*0.12, h*0.6

	var dets []vision.Detection
	for _, p := range r.walkers {
		angle := p.Angle + p.Speed*elapsed
		if angle < r.panMin-r.fov || angle > r.panMax+r.fov {
			continue // walked out of the room
		}
		offset := angle - pan
		if offset <= -r.fov/2 || offset >= r.fov/2 {
			continue
		}
		cx := w/2 + offset*w/r.fov
		dets = append(dets, vision.Detection{
			Label:      vision.PersonLabel,
			Confidence: 0.85,
			BBox:       vision.BBox{X: cx - boxW/2, Y: h * 0.2, W: boxW, H: boxH},
		})
	}
	return vision.Frame{Detections: dets}
}

func parseWalkers(list string) ([]walker, error) {
	var out []walker
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		angle, speed := item, "0"
		if i := strings.Index(item, ":"); i >= 0 {
			angle, speed = item[:i], item[i+1:]
		}
		a, err := strconv.ParseFloat(angle, 64)
		if err != nil {
			return nil, fmt.Errorf("person %q: %w", item, err)
		}
		s, err := strconv.ParseFloat(speed, 64)
		if err != nil {
			return nil, fmt.Errorf("person %q: %w", item, err)
		}
		out = append(out, walker{Angle: a, Speed: s})
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	people := flag.String("people", "45:2,130", "People as angle[:deg_per_sec], comma separated")
	moveTime := flag.Duration("move-time", 0, "Simulated full-speed move duration")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	heatPath := flag.String("heatmap", "scansim-heatmap.json", "Heat map file")
	port := flag.String("port", "", "Serve the status API on this port")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
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

	walkers, err := parseWalkers(*people)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sc := cfg.ScannerConfig()
	r := &room{
		walkers: walkers,
		start:   time.Now(),
		fov:     sc.FOV,
		width:   sc.FrameWidth,
		height:  sc.FrameHeight,
		panMin:  sc.Servo.Pan.Min,
		panMax:  sc.Servo.Pan.Max,
	}
	camera := vision.NewScriptedCamera(sc.FrameWidth, sc.FrameHeight)
	camera.ByPan = r.frameAt
	camera.FOV = sc.FOV

	sim := servo.NewSimController(sc.Servo)
	sim.MoveDuration = *moveTime

	store := heatmap.NewFileStore(*heatPath)
	heat := heatmap.Load(ctx, store, sc.HeatMap)

	deps := scanner.Deps{
		Camera:  camera,
		Servo:   sim,
		HeatMap: heat,
		Store:   store,
	}

	var server *web.Server
	if *port != "" {
		server = web.NewServer(":"+*port, nil, heat)
		deps.Notifier = server
	}

	orch, err := scanner.New(deps, sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if server != nil {
		server.AttachStatus(orch)
		server.StartAsync()
		defer server.Shutdown()
	}

	log.Info("simulation started", "people", len(walkers), "heatmap", *heatPath)
	if err := orch.Run(ctx); err != nil {
		log.Error("simulation failed", "error", err)
	}

	st := orch.Status()
	log.Info("simulation finished",
		"sweeps", st.Sweeps,
		"moves", len(sim.Moves()),
		"captures", camera.Calls(),
		"heat_buckets", st.HeatBuckets)
}
