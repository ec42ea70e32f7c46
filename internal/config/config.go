// Package config loads the rig configuration: defaults, an optional YAML
// file, then PANSCAN_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-panscan/pkg/heatmap"
	"github.com/teslashibe/go-panscan/pkg/publish"
	"github.com/teslashibe/go-panscan/pkg/scan"
	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/servo"
	"github.com/teslashibe/go-panscan/pkg/tracking"
	"github.com/teslashibe/go-panscan/pkg/watch"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Heat map store kinds.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
	StoreNone  = "none"
)

// Config is the whole rig.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Camera   Camera   `yaml:"camera"`
	Servo    Servo    `yaml:"servo"`
	Scan     Scan     `yaml:"scan"`
	Tracking Tracking `yaml:"tracking"`
	Watch    Watch    `yaml:"watch"`
	HeatMap  HeatMap  `yaml:"heatmap"`
	Web      Web      `yaml:"web"`
	MQTT     MQTT     `yaml:"mqtt"`
}

// Camera describes the capture device and detector models.
type Camera struct {
	Source          string  `yaml:"source"` // device index or stream URL
	FOV             float64 `yaml:"fov"`
	VerticalFOV     float64 `yaml:"vertical_fov"`
	FrameWidth      int     `yaml:"frame_width"`
	FrameHeight     int     `yaml:"frame_height"`
	PersonModelPath string  `yaml:"person_model"`
	FaceModelPath   string  `yaml:"face_model"`
	NMSThreshold    float64 `yaml:"nms_threshold"`
}

// Servo describes the pan/tilt bridge and mount.
type Servo struct {
	URL         string        `yaml:"url"`
	Pan         servo.Limits  `yaml:"pan"`
	Tilt        servo.Limits  `yaml:"tilt"`
	Speed       float64       `yaml:"speed"`
	Settle      time.Duration `yaml:"settle"`
	MoveTimeout time.Duration `yaml:"move_timeout"`
	DeadZone    float64       `yaml:"dead_zone"`
}

// Scan describes sweeps.
type Scan struct {
	Overlap             float64       `yaml:"overlap"`
	Order               scan.Order    `yaml:"order"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MinSeenFrames       int           `yaml:"min_seen_frames"`
	Interval            time.Duration `yaml:"interval"`
	Tiers               []scan.Range  `yaml:"tiers"`
	MaxTiltNudge        float64       `yaml:"max_tilt_nudge"`
}

// Tracking describes WATCH association and events.
type Tracking struct {
	GatingRadius             float64 `yaml:"gating_radius"`
	EdgeWarning              float64 `yaml:"edge_warning"`
	EdgeCritical             float64 `yaml:"edge_critical"`
	MissingFrames            int     `yaml:"missing_frames"`
	MinExitVelocity          float64 `yaml:"min_exit_velocity"`
	MaxReacquisitionAttempts int     `yaml:"max_reacquisition_attempts"`
	ReacquisitionStep        float64 `yaml:"reacquisition_step"`
	VelocityWindow           int     `yaml:"velocity_window"`
	HistorySize              int     `yaml:"history_size"`
}

// Watch describes WATCH corrections and session limits.
type Watch struct {
	Preset             string        `yaml:"preset"` // default, gentle, aggressive
	Deadband           float64       `yaml:"deadband"`
	Gain               float64       `yaml:"gain"`
	WarningGain        float64       `yaml:"warning_gain"`
	CriticalGain       float64       `yaml:"critical_gain"`
	MaxStep            float64       `yaml:"max_step"`
	Interval           time.Duration `yaml:"interval"`
	MaxDuration        time.Duration `yaml:"max_duration"`
	MaxCaptureFailures int           `yaml:"max_capture_failures"`
}

// HeatMap describes the learned distribution and where it lives.
type HeatMap struct {
	BucketSize    float64       `yaml:"bucket_size"`
	HalfLife      time.Duration `yaml:"half_life"`
	Store         string        `yaml:"store"` // file, redis, none
	Path          string        `yaml:"path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisKey      string        `yaml:"redis_key"`
}

// Web describes the status API.
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// MQTT describes the event publisher. An empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Default returns a working configuration for a 0-180° mount and a 1280x720
// camera.
func Default() Config {
	sc := scanner.DefaultConfig()
	tc := tracking.DefaultConfig()
	wc := watch.DefaultConfig()
	hc := heatmap.DefaultConfig()
	pc := publish.DefaultConfig()

	return Config{
		LogLevel: "info",
		Camera: Camera{
			Source:          "0",
			FOV:             sc.FOV,
			VerticalFOV:     sc.VerticalFOV,
			FrameWidth:      sc.FrameWidth,
			FrameHeight:     sc.FrameHeight,
			PersonModelPath: "models/yolov8n.onnx",
			FaceModelPath:   "models/face_detection_yunet.onnx",
			NMSThreshold:    0.45,
		},
		Servo: Servo{
			URL:         "http://localhost:8000",
			Pan:         sc.Servo.Pan,
			Tilt:        sc.Servo.Tilt,
			Speed:       sc.Servo.Speed,
			Settle:      sc.Servo.Settle,
			MoveTimeout: sc.Servo.MoveTimeout,
			DeadZone:    sc.Servo.DeadZone,
		},
		Scan: Scan{
			Overlap:             sc.Scan.Overlap,
			Order:               sc.Scan.Order,
			ConfidenceThreshold: sc.ConfidenceThreshold,
			MinSeenFrames:       sc.MinSeenFrames,
			Interval:            sc.ScanInterval,
			MaxTiltNudge:        sc.MaxTiltNudge,
		},
		Tracking: Tracking{
			GatingRadius:             tc.GatingRadius,
			EdgeWarning:              tc.EdgeWarning,
			EdgeCritical:             tc.EdgeCritical,
			MissingFrames:            tc.MissingFrames,
			MinExitVelocity:          tc.MinExitVelocity,
			MaxReacquisitionAttempts: tc.MaxReacquisitionAttempts,
			ReacquisitionStep:        tc.ReacquisitionStep,
			VelocityWindow:           tc.VelocityWindow,
			HistorySize:              tc.HistorySize,
		},
		Watch: Watch{
			Preset:             "default",
			Deadband:           wc.Deadband,
			Gain:               wc.Gain,
			WarningGain:        wc.WarningGain,
			CriticalGain:       wc.CriticalGain,
			MaxStep:            wc.MaxStep,
			Interval:           sc.WatchInterval,
			MaxDuration:        sc.MaxWatchDuration,
			MaxCaptureFailures: sc.MaxCaptureFailures,
		},
		HeatMap: HeatMap{
			BucketSize: hc.BucketSize,
			HalfLife:   hc.HalfLife,
			Store:      StoreFile,
			Path:       "heatmap.json",
			RedisAddr:  "localhost:6379",
			RedisKey:   heatmap.DefaultRedisKey,
		},
		Web: Web{
			Enabled: true,
			Port:    "8080",
		},
		MQTT: MQTT{
			ClientID:    pc.ClientID,
			TopicPrefix: pc.TopicPrefix,
			QoS:         pc.QoS,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PANSCAN_* variables.
func (c *Config) ApplyEnv() error {
	c.LogLevel = envString("PANSCAN_LOG_LEVEL", c.LogLevel)
	c.Camera.Source = envString("PANSCAN_CAMERA", c.Camera.Source)
	c.Servo.URL = envString("PANSCAN_SERVO_URL", c.Servo.URL)
	c.HeatMap.Store = envString("PANSCAN_HEATMAP_STORE", c.HeatMap.Store)
	c.HeatMap.Path = envString("PANSCAN_HEATMAP_PATH", c.HeatMap.Path)
	c.HeatMap.RedisAddr = envString("PANSCAN_REDIS_ADDR", c.HeatMap.RedisAddr)
	c.Web.Port = envString("PANSCAN_WEB_PORT", c.Web.Port)
	c.MQTT.Broker = envString("PANSCAN_MQTT_BROKER", c.MQTT.Broker)

	var err error
	if c.Camera.FOV, err = envFloat("PANSCAN_FOV", c.Camera.FOV); err != nil {
		return err
	}
	if c.Scan.ConfidenceThreshold, err = envFloat("PANSCAN_CONFIDENCE", c.Scan.ConfidenceThreshold); err != nil {
		return err
	}
	return nil
}

// envString returns the variable's value or def when unset.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
	}
	return f, nil
}

// Validate rejects configurations the scanner cannot run with.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Camera.FOV <= 0 || c.Camera.FOV >= 360:
		return fail("camera fov %v must be in (0,360)", c.Camera.FOV)
	case c.Camera.FrameWidth <= 0 || c.Camera.FrameHeight <= 0:
		return fail("frame size %dx%d", c.Camera.FrameWidth, c.Camera.FrameHeight)
	case c.Scan.Overlap < 0 || c.Scan.Overlap >= c.Camera.FOV:
		return fail("overlap %v must be in [0,fov)", c.Scan.Overlap)
	case c.Scan.ConfidenceThreshold < 0 || c.Scan.ConfidenceThreshold > 1:
		return fail("confidence threshold %v not in [0,1]", c.Scan.ConfidenceThreshold)
	case c.Scan.MinSeenFrames < 1:
		return fail("min seen frames %d < 1", c.Scan.MinSeenFrames)
	case c.Scan.Order != scan.OrderSweep && c.Scan.Order != scan.OrderCenter:
		return fail("unknown scan order %q", c.Scan.Order)
	case c.Servo.Pan.Min >= c.Servo.Pan.Max:
		return fail("pan min %v >= max %v", c.Servo.Pan.Min, c.Servo.Pan.Max)
	case c.Servo.Tilt.Min >= c.Servo.Tilt.Max:
		return fail("tilt min %v >= max %v", c.Servo.Tilt.Min, c.Servo.Tilt.Max)
	case c.Tracking.EdgeWarning <= 0 || c.Tracking.EdgeWarning >= 0.5:
		return fail("edge warning %v not in (0,0.5)", c.Tracking.EdgeWarning)
	case c.Tracking.EdgeCritical <= 0 || c.Tracking.EdgeWarning <= c.Tracking.EdgeCritical:
		return fail("edge critical %v must be in (0, warning)", c.Tracking.EdgeCritical)
	case c.Tracking.MissingFrames < 1:
		return fail("missing frames %d < 1", c.Tracking.MissingFrames)
	case c.HeatMap.BucketSize <= 0:
		return fail("bucket size %v <= 0", c.HeatMap.BucketSize)
	case c.HeatMap.HalfLife <= 0:
		return fail("half-life %v <= 0", c.HeatMap.HalfLife)
	case c.Watch.Deadband < 0 || c.Watch.Deadband >= 0.5:
		return fail("deadband %v not in [0,0.5)", c.Watch.Deadband)
	}

	switch c.HeatMap.Store {
	case StoreFile:
		if c.HeatMap.Path == "" {
			return fail("file store needs a path")
		}
	case StoreRedis:
		if c.HeatMap.RedisAddr == "" {
			return fail("redis store needs an address")
		}
	case StoreNone:
	default:
		return fail("unknown heat map store %q", c.HeatMap.Store)
	}

	switch c.Watch.Preset {
	case "", "default", "gentle", "aggressive":
	default:
		return fail("unknown watch preset %q", c.Watch.Preset)
	}
	return nil
}

// ServoConfig returns the mount configuration.
func (c Config) ServoConfig() servo.Config {
	return servo.Config{
		Pan:         c.Servo.Pan,
		Tilt:        c.Servo.Tilt,
		Speed:       c.Servo.Speed,
		Settle:      c.Servo.Settle,
		MoveTimeout: c.Servo.MoveTimeout,
		DeadZone:    c.Servo.DeadZone,
	}
}

// HeatMapConfig returns the heat map configuration over the pan range.
func (c Config) HeatMapConfig() heatmap.Config {
	hc := heatmap.DefaultConfig()
	hc.BucketSize = c.HeatMap.BucketSize
	hc.HalfLife = c.HeatMap.HalfLife
	hc.PanMin = c.Servo.Pan.Min
	hc.PanMax = c.Servo.Pan.Max
	return hc
}

// WatchConfig returns the preset with the file's overrides applied.
func (c Config) WatchConfig() watch.Config {
	var wc watch.Config
	switch c.Watch.Preset {
	case "gentle":
		wc = watch.GentleConfig()
	case "aggressive":
		wc = watch.AggressiveConfig()
	default:
		wc = watch.DefaultConfig()
		wc.Deadband = c.Watch.Deadband
		wc.Gain = c.Watch.Gain
		wc.WarningGain = c.Watch.WarningGain
		wc.CriticalGain = c.Watch.CriticalGain
		wc.MaxStep = c.Watch.MaxStep
	}
	return wc
}

// TrackingConfig returns the event tracker configuration.
func (c Config) TrackingConfig() tracking.Config {
	tc := tracking.DefaultConfig()
	tc.GatingRadius = c.Tracking.GatingRadius
	tc.EdgeWarning = c.Tracking.EdgeWarning
	tc.EdgeCritical = c.Tracking.EdgeCritical
	tc.MissingFrames = c.Tracking.MissingFrames
	tc.MinExitVelocity = c.Tracking.MinExitVelocity
	tc.MaxReacquisitionAttempts = c.Tracking.MaxReacquisitionAttempts
	tc.ReacquisitionStep = c.Tracking.ReacquisitionStep
	tc.VelocityWindow = c.Tracking.VelocityWindow
	tc.HistorySize = c.Tracking.HistorySize
	return tc
}

// ScannerConfig assembles the control loop configuration.
func (c Config) ScannerConfig() scanner.Config {
	sc := scanner.DefaultConfig()
	sc.FOV = c.Camera.FOV
	sc.VerticalFOV = c.Camera.VerticalFOV
	sc.FrameWidth = c.Camera.FrameWidth
	sc.FrameHeight = c.Camera.FrameHeight
	sc.ConfidenceThreshold = c.Scan.ConfidenceThreshold
	sc.MinSeenFrames = c.Scan.MinSeenFrames
	sc.ScanInterval = c.Scan.Interval
	sc.WatchInterval = c.Watch.Interval
	sc.MaxWatchDuration = c.Watch.MaxDuration
	sc.MaxCaptureFailures = c.Watch.MaxCaptureFailures
	sc.MaxTiltNudge = c.Scan.MaxTiltNudge

	sc.Scan.FOV = c.Camera.FOV
	sc.Scan.Overlap = c.Scan.Overlap
	sc.Scan.Order = c.Scan.Order
	sc.Scan.Tiers = c.Scan.Tiers
	sc.Scan.PanMin = c.Servo.Pan.Min
	sc.Scan.PanMax = c.Servo.Pan.Max

	sc.Tracking = c.TrackingConfig()
	sc.Watch = c.WatchConfig()
	sc.Servo = c.ServoConfig()
	sc.HeatMap = c.HeatMapConfig()
	return sc
}

// PublishConfig returns the MQTT configuration.
func (c Config) PublishConfig() publish.Config {
	pc := publish.DefaultConfig()
	pc.Broker = c.MQTT.Broker
	pc.ClientID = c.MQTT.ClientID
	pc.Username = c.MQTT.Username
	pc.Password = c.MQTT.Password
	pc.TopicPrefix = c.MQTT.TopicPrefix
	pc.QoS = c.MQTT.QoS
	return pc
}
