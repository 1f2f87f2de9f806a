// Package config loads texresolve configuration.
//
// Configuration comes from a single YAML file named by the --config flag
// or the TEXRESOLVE_CONFIG environment variable. Without either, Default
// is used unchanged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goopsie/texresolve/internal/logging"
	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/registry"
	"github.com/goopsie/texresolve/pkg/texture"
)

// EnvConfig names the configuration file when no flag is given.
const EnvConfig = "TEXRESOLVE_CONFIG"

// Config is the full texresolve configuration.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Scan     ScanConfig     `yaml:"scan"`
	Codec    CodecConfig    `yaml:"codec"`
	Log      LogConfig      `yaml:"log"`
}

// RegistryConfig locates the format registry snapshots.
type RegistryConfig struct {
	// Path is the base snapshot. Empty uses the bundled defaults.
	Path string `yaml:"path"`

	// LocalFile is the name of the local override snapshot searched for in
	// the working and executable directories. "-" disables the search.
	LocalFile string `yaml:"local_file"`

	// Overrides map filename patterns to registered formats.
	Overrides []Override `yaml:"overrides"`
}

// Override maps a filename pattern to a format ID.
type Override struct {
	Pattern string `yaml:"pattern"`
	Format  string `yaml:"format"`
}

// ScanConfig tunes the scan pipeline.
type ScanConfig struct {
	// Workers bounds concurrently resolved groups. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// OutputDir is where converted files are placed. Empty means next to
	// their inputs.
	OutputDir string `yaml:"output_dir"`

	// ImageExt is the extension of images written from containers.
	ImageExt string `yaml:"image_ext"`

	// TextureExt is the extension of containers written from images.
	TextureExt string `yaml:"texture_ext"`
}

// CodecConfig selects the codec backend.
type CodecConfig struct {
	// Backend is "native" or "generic".
	Backend string `yaml:"backend"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			LocalFile: registry.DefaultLocalFile,
		},
		Scan: ScanConfig{
			ImageExt:   ".dds",
			TextureExt: ".tex",
		},
		Codec: CodecConfig{
			Backend: codec.GenericDecoder.String(),
		},
		Log: LogConfig{
			Level: logging.DefaultLevel,
		},
	}
}

// Load loads the file named by path, or by TEXRESOLVE_CONFIG when path is
// empty. With neither, Default is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	for i, o := range c.Registry.Overrides {
		if o.Pattern == "" {
			errs = append(errs, fmt.Errorf("registry.overrides[%d].pattern is required", i))
		} else if _, err := path.Match(o.Pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("registry.overrides[%d].pattern: %w", i, err))
		}
		if _, err := texture.ParseFormatID(o.Format); err != nil {
			errs = append(errs, fmt.Errorf("registry.overrides[%d].format: %w", i, err))
		}
	}

	if c.Scan.Workers < 0 {
		errs = append(errs, fmt.Errorf("scan.workers must not be negative"))
	}
	if c.Scan.ImageExt == "" {
		errs = append(errs, fmt.Errorf("scan.image_ext is required"))
	}
	if c.Scan.TextureExt == "" {
		errs = append(errs, fmt.Errorf("scan.texture_ext is required"))
	}
	if strings.EqualFold(strings.TrimPrefix(c.Scan.ImageExt, "."), strings.TrimPrefix(c.Scan.TextureExt, ".")) {
		errs = append(errs, fmt.Errorf("scan.image_ext and scan.texture_ext must differ"))
	}

	if _, err := codec.ParseBackend(c.Codec.Backend); err != nil {
		errs = append(errs, fmt.Errorf("codec.backend: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Backend returns the configured codec backend.
func (c *Config) Backend() codec.Backend {
	b, _ := codec.ParseBackend(c.Codec.Backend)
	return b
}

// ApplyOverrides registers every configured override with reg. Overrides
// naming formats reg does not know are reported and skipped.
func (c *Config) ApplyOverrides(reg *registry.Registry) error {
	var errs []error
	for _, o := range c.Registry.Overrides {
		id, err := texture.ParseFormatID(o.Format)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.AddOverride(o.Pattern, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
