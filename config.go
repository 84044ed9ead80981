package pulsefield

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidConfig = errors.New("invalid config")

// Config is the full application configuration. Defaults are embedded; a user
// file only overrides the keys it sets.
type Config struct {
	Window    WindowConfig        `yaml:"window"`
	Grid      core.Grid           `yaml:"grid"`
	Field     core.FieldParams    `yaml:"field"`
	Pressure  core.PressureTuning `yaml:"pressure"`
	Render    core.RenderParams   `yaml:"render"`
	Schedule  ScheduleConfig      `yaml:"schedule"`
	Camera    CameraConfig        `yaml:"camera"`
	Show      ShowConfig          `yaml:"show"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	Debug     bool                `yaml:"debug"`
}

type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
}

// ScheduleConfig holds the startup modes of the engine.
type ScheduleConfig struct {
	HalfStride   bool          `yaml:"half_stride"`
	PressureMode bool          `yaml:"pressure_mode"`
	Flow         bool          `yaml:"flow"`
	MaxFrameStep time.Duration `yaml:"max_frame_step"`
}

type CameraConfig struct {
	Distance   float32 `yaml:"distance"`
	Yaw        float32 `yaml:"yaw"`
	Pitch      float32 `yaml:"pitch"`
	OrbitSpeed float32 `yaml:"orbit_speed"`
	FovY       float32 `yaml:"fov_y"`
	Near       float32 `yaml:"near"`
	Far        float32 `yaml:"far"`
}

// Apply copies the configured orbit onto cam.
func (c CameraConfig) Apply(cam *core.CameraState) {
	cam.Distance = c.Distance
	cam.Yaw = c.Yaw
	cam.Pitch = c.Pitch
	cam.OrbitSpeed = c.OrbitSpeed
	cam.FovY = c.FovY
	cam.Near = c.Near
	cam.Far = c.Far
}

// ShowConfig configures the show-control websocket bridge. An empty Listen
// disables it.
type ShowConfig struct {
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	QueueDepth int    `yaml:"queue_depth"`
}

// TelemetryConfig configures the per-frame CSV log. An empty Path disables it.
type TelemetryConfig struct {
	Path   string `yaml:"path"`
	Window int    `yaml:"window"`
}

// Load reads the embedded defaults and overlays the file at path, if any.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for program start-up.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: grid: %w", ErrInvalidConfig, err)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("%w: window %dx%d", ErrInvalidConfig, c.Window.Width, c.Window.Height)
	}
	if c.Field.BaseRadius <= 0 {
		return fmt.Errorf("%w: field.base_radius must be positive", ErrInvalidConfig)
	}
	if c.Render.ParticleSize <= 0 {
		return fmt.Errorf("%w: render.particle_size must be positive", ErrInvalidConfig)
	}
	if c.Render.HeatCutoff < 0 || c.Render.HeatCutoff >= 1 {
		return fmt.Errorf("%w: render.heat_cutoff must be in [0,1)", ErrInvalidConfig)
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		return fmt.Errorf("%w: camera clip range %v..%v", ErrInvalidConfig, c.Camera.Near, c.Camera.Far)
	}
	if c.Show.Listen != "" && c.Show.QueueDepth <= 0 {
		return fmt.Errorf("%w: show.queue_depth must be positive", ErrInvalidConfig)
	}
	return nil
}

// WriteYAML saves the effective configuration.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
