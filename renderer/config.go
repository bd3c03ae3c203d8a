package renderer

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config carries the tunables of the rendering backend. Zero values are
// replaced by defaults in Validate, so a partial TOML file is enough.
type Config struct {
	// ApplicationName is passed to the graphics driver at instance creation.
	ApplicationName string `toml:"application_name"`
	// FramesInFlight is the number of frames the CPU may record ahead of
	// the GPU. Values above 3 buy nothing but latency.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// VertexGrowth and InstanceGrowth are the element granularities used
	// when a device buffer has to be reallocated.
	VertexGrowth   uint32 `toml:"vertex_growth"`
	InstanceGrowth uint32 `toml:"instance_growth"`
	// Validation enables the driver validation layers when available.
	Validation bool `toml:"validation"`
	// VSync selects a blocking present mode.
	VSync bool `toml:"vsync"`
	// ClearColor is the RGBA color the color attachment is cleared to.
	ClearColor [4]float32 `toml:"clear_color"`
	// ShaderDir, when set, is watched for shader changes at runtime.
	ShaderDir string `toml:"shader_dir"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		ApplicationName: "Vetro",
		FramesInFlight:  2,
		VertexGrowth:    2048,
		InstanceGrowth:  512,
		Validation:      false,
		VSync:           true,
		ClearColor:      [4]float32{0, 0, 0, 1},
		LogLevel:        "info",
	}
}

// LoadConfig reads a TOML configuration file. A missing file is not an
// error, the defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects nonsensical ones.
func (c *Config) Validate() error {
	if c.ApplicationName == "" {
		c.ApplicationName = "Vetro"
	}
	if c.FramesInFlight == 0 {
		c.FramesInFlight = 2
	}
	if c.FramesInFlight > 3 {
		return fmt.Errorf("frames_in_flight %d out of range [1,3]", c.FramesInFlight)
	}
	if c.VertexGrowth == 0 {
		c.VertexGrowth = 2048
	}
	if c.InstanceGrowth == 0 {
		c.InstanceGrowth = 512
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}
