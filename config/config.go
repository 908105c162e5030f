// Package config loads the problem-setup parameters from YAML, applies
// environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/notargets/HPCGKernel/geometry"
	"github.com/notargets/HPCGKernel/utils"
	"gopkg.in/yaml.v3"
)

// MaxLevels bounds the multigrid depth a configuration may request
const MaxLevels = 16

var validate = validator.New()

// Config describes one setup run
type Config struct {
	Nx        int64  `yaml:"nx" validate:"gt=0"`
	Ny        int64  `yaml:"ny" validate:"gt=0"`
	Nz        int64  `yaml:"nz" validate:"gt=0"`
	Shards    int    `yaml:"shards" validate:"gte=1"`
	Rank      int    `yaml:"rank" validate:"gte=0,ltfield=Shards"`
	Threads   int    `yaml:"threads" validate:"gte=0"`
	Levels    int    `yaml:"levels" validate:"gte=1,lte=16"`
	Device    string `yaml:"device" validate:"omitempty,oneof=Serial OpenMP CUDA"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`
}

// Default is the HPCG reference local grid on a single shard
func Default() *Config {
	return &Config{
		Nx:        16,
		Ny:        16,
		Nz:        16,
		Shards:    1,
		Threads:   1,
		Levels:    4,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err = cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return utils.Configf("parsing config: %v", err)
	}
	return nil
}

// ApplyEnv overrides fields from HPCG_NX, HPCG_NY, HPCG_NZ, HPCG_SHARDS and
// HPCG_LEVELS. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	int64s := []struct {
		key string
		dst *int64
	}{
		{"HPCG_NX", &c.Nx},
		{"HPCG_NY", &c.Ny},
		{"HPCG_NZ", &c.Nz},
	}
	for _, e := range int64s {
		if v, ok := lookup(e.key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return utils.Configf("%s=%q: %v", e.key, v, err)
			}
			*e.dst = n
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"HPCG_SHARDS", &c.Shards},
		{"HPCG_LEVELS", &c.Levels},
	}
	for _, e := range ints {
		if v, ok := lookup(e.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return utils.Configf("%s=%q: %v", e.key, v, err)
			}
			*e.dst = n
		}
	}
	return nil
}

// Validate checks field ranges. Failures wrap utils.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return utils.Configf("field %s fails %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return utils.Configf("%v", err)
	}
	return nil
}

// Geometry builds the fine-level geometry the configuration describes
func (c *Config) Geometry() (*geometry.Geometry, error) {
	return geometry.New(c.Shards, c.Rank, c.Threads, c.Nx, c.Ny, c.Nz)
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
