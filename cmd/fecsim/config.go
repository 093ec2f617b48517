package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/urfave/cli/v2"

	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/ring"
)

type Config struct {
	Frames        int     `toml:"frames"`
	FrameSize     int     `toml:"frame_size"`
	ShardSize     int     `toml:"shard_size"`
	FECPercentage int     `toml:"fec_percentage"`
	Scheme        string  `toml:"scheme"`
	Loss          float64 `toml:"loss"`
	Burst         float64 `toml:"burst"`
	Reorder       float64 `toml:"reorder"`
	Duplicate     float64 `toml:"duplicate"`
	Seed          int64   `toml:"seed"`
	RingSize      uint32  `toml:"ring_size"`
	MaxBufferSize int     `toml:"max_buffer_size"`
	LogLevel      string  `toml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Frames:        1000,
		FrameSize:     12000,
		ShardSize:     1024,
		FECPercentage: 20,
		Scheme:        fec.SchemeReedSolomon.String(),
		Loss:          0.02,
		Burst:         1,
		Seed:          1,
		RingSize:      1024,
		MaxBufferSize: fec.MaxShards,
		LogLevel:      "info",
	}
}

func loadConfigFile(path string, conf *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err = toml.Unmarshal(data, conf); err != nil {
		return fmt.Errorf("could not parse %s: %w", path, err)
	}
	return nil
}

// getConfig layers defaults, the optional config file, and explicitly set
// flags, in that order.
func getConfig(c *cli.Context) (*Config, error) {
	conf := defaultConfig()
	if path := c.String("config"); path != "" {
		if err := loadConfigFile(path, conf); err != nil {
			return nil, err
		}
	}

	if c.IsSet("frames") {
		conf.Frames = c.Int("frames")
	}
	if c.IsSet("frame-size") {
		conf.FrameSize = c.Int("frame-size")
	}
	if c.IsSet("shard-size") {
		conf.ShardSize = c.Int("shard-size")
	}
	if c.IsSet("fec-percentage") {
		conf.FECPercentage = c.Int("fec-percentage")
	}
	if c.IsSet("scheme") {
		conf.Scheme = c.String("scheme")
	}
	if c.IsSet("loss") {
		conf.Loss = c.Float64("loss")
	}
	if c.IsSet("burst") {
		conf.Burst = c.Float64("burst")
	}
	if c.IsSet("reorder") {
		conf.Reorder = c.Float64("reorder")
	}
	if c.IsSet("duplicate") {
		conf.Duplicate = c.Float64("duplicate")
	}
	if c.IsSet("seed") {
		conf.Seed = c.Int64("seed")
	}
	if c.IsSet("ring-size") {
		size := c.Uint("ring-size")
		if size > uint(ring.MaxCapacity) {
			return nil, fmt.Errorf("ring size %d above %d", size, ring.MaxCapacity)
		}
		conf.RingSize = uint32(size)
	}
	if c.IsSet("max-buffer-size") {
		conf.MaxBufferSize = c.Int("max-buffer-size")
	}
	if c.IsSet("log-level") {
		conf.LogLevel = c.String("log-level")
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Frames <= 0 || c.FrameSize <= 0 || c.ShardSize <= 0 {
		return errors.New("frame count and sizes must be positive")
	}
	if c.FECPercentage < 0 || c.FECPercentage > 100 {
		return fmt.Errorf("fec percentage %d out of range", c.FECPercentage)
	}
	for name, p := range map[string]float64{
		"loss":      c.Loss,
		"reorder":   c.Reorder,
		"duplicate": c.Duplicate,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s probability %v out of range", name, p)
		}
	}
	if c.RingSize == 0 || c.RingSize > ring.MaxCapacity {
		return fmt.Errorf("ring size %d out of range", c.RingSize)
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if _, err := fec.ParseScheme(c.Scheme); err != nil {
		return err
	}
	return nil
}
