package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Output formats accepted by --format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

var validFormats = []string{FormatText, FormatJSON, FormatYAML, FormatTOML}

// Defaults shared by the flag definitions and the viper defaults.
const (
	DefaultChunkSize   = 1024
	DefaultBenchSizeMB = 64
	DefaultDebounce    = 300 * time.Millisecond
)

// WatchConfig holds configuration specific to watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// BenchConfig holds configuration for the throughput comparison.
type BenchConfig struct {
	SizeMB int    `mapstructure:"sizeMB"`
	Dir    string `mapstructure:"dir"` // Scratch directory; the system temp dir when empty.
}

// Options holds all the configuration settings for filekit.
// Tags are used by Viper for unmarshalling from config files, env vars, and flags.
type Options struct {
	// Verification trees
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`

	// Output
	Verbose      bool   `mapstructure:"verbose"`
	Format       string `mapstructure:"format"`
	TemplateFile string `mapstructure:"template"`

	// Walking
	Ignore          []string `mapstructure:"ignore"`
	SkipHiddenFiles bool     `mapstructure:"skipHiddenFiles"`

	// Performance
	Concurrency int  `mapstructure:"concurrency"`
	ChunkSize   int  `mapstructure:"chunkSize"` // Bytes compared per read.
	UseCache    bool `mapstructure:"cache"`
	ClearCache  bool `mapstructure:"clearCache"`

	// Path operations
	Overwrite bool `mapstructure:"overwrite"`

	WatchMode bool        `mapstructure:"watch"`
	Watch     WatchConfig `mapstructure:"watchConfig"`

	Bench BenchConfig `mapstructure:"bench"`

	// Path to the config file used
	ConfigFile string `mapstructure:"config"`
}

// ValidateConfig checks the settings every command relies on and reports
// all problems at once.
func (opts *Options) ValidateConfig() error {
	var errs []string

	if opts.Format != "" && !slices.Contains(validFormats, opts.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of %s", strings.Join(validFormats, ", ")))
	}

	if opts.TemplateFile != "" {
		info, err := os.Stat(opts.TemplateFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Sprintf("template '%s' does not exist", opts.TemplateFile))
			} else {
				errs = append(errs, fmt.Sprintf("cannot access template '%s': %v", opts.TemplateFile, err))
			}
		} else if info.IsDir() {
			errs = append(errs, fmt.Sprintf("template '%s' is a directory, not a file", opts.TemplateFile))
		}
	}

	if opts.Concurrency < 0 {
		errs = append(errs, "concurrency must be non-negative (0 for auto)")
	}
	if opts.ChunkSize <= 0 {
		errs = append(errs, "chunkSize must be positive")
	}
	if opts.Bench.SizeMB <= 0 {
		errs = append(errs, "bench.sizeMB must be positive")
	}
	if opts.WatchMode && opts.Watch.Debounce < 0 {
		errs = append(errs, "watch.debounce duration must be non-negative")
	}

	for _, pattern := range opts.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Sprintf("ignore pattern '%s' is malformed: %v", pattern, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateVerify extends ValidateConfig with the checks tree verification needs.
// The target may be missing (every file then reports as missing) but must not be a regular file.
func (opts *Options) ValidateVerify() error {
	var errs []string
	if err := opts.ValidateConfig(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "invalid configuration: "))
	}

	if strings.TrimSpace(opts.Source) == "" {
		errs = append(errs, "source path cannot be empty")
	} else if info, err := os.Stat(opts.Source); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Sprintf("source path '%s' does not exist", opts.Source))
		} else {
			errs = append(errs, fmt.Sprintf("cannot access source path '%s': %v", opts.Source, err))
		}
	} else if !info.IsDir() {
		errs = append(errs, fmt.Sprintf("source path '%s' is not a directory", opts.Source))
	}

	if strings.TrimSpace(opts.Target) == "" {
		errs = append(errs, "target path cannot be empty")
	} else if info, err := os.Stat(opts.Target); err == nil && !info.IsDir() {
		errs = append(errs, fmt.Sprintf("target path '%s' is not a directory", opts.Target))
	}

	if opts.Source != "" && opts.Target != "" {
		absSrc, _ := filepath.Abs(opts.Source)
		absDst, _ := filepath.Abs(opts.Target)
		if absSrc == absDst {
			errs = append(errs, "source and target must be different directories")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
