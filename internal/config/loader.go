package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load, e.g. FILEKIT_CONCURRENCY.
const EnvPrefix = "FILEKIT"

// configNames are searched in the working directory when no --config is given.
var configNames = []string{".filekit", "filekit"}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"source":            "source",
	"target":            "target",
	"verbose":           "verbose",
	"format":            "format",
	"template":          "template",
	"ignore":            "ignore",
	"skip-hidden-files": "skipHiddenFiles",
	"concurrency":       "concurrency",
	"chunk-size":        "chunkSize",
	"cache":             "cache",
	"clear-cache":       "clearCache",
	"overwrite":         "overwrite",
	"watch":             "watch",
	"debounce":          "watchConfig.debounce",
	"bench-size":        "bench.sizeMB",
	"bench-dir":         "bench.dir",
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source", "")
	v.SetDefault("target", "")
	v.SetDefault("verbose", false)
	v.SetDefault("format", FormatText)
	v.SetDefault("template", "")
	v.SetDefault("ignore", []string{})
	v.SetDefault("skipHiddenFiles", false)
	v.SetDefault("concurrency", 0)
	v.SetDefault("chunkSize", DefaultChunkSize)
	v.SetDefault("cache", true)
	v.SetDefault("clearCache", false)
	v.SetDefault("overwrite", false)
	v.SetDefault("watch", false)
	v.SetDefault("watchConfig.debounce", DefaultDebounce.String())
	v.SetDefault("bench.sizeMB", DefaultBenchSizeMB)
	v.SetDefault("bench.dir", "")
}

// Loader resolves Options from defaults, a config file, the environment and flags,
// in increasing order of precedence.
type Loader struct {
	fs afero.Fs
}

// NewLoader creates a Loader reading config files from the OS filesystem.
func NewLoader() *Loader {
	return &Loader{fs: afero.NewOsFs()}
}

// NewLoaderWithFS creates a Loader reading config files from fs (for testing).
func NewLoaderWithFS(fs afero.Fs) *Loader {
	return &Loader{fs: fs}
}

// Load builds Options. flags may be nil; when present, changed flags override
// every other source and an explicit "config" flag names the config file.
// A zero concurrency is resolved to the number of CPUs.
func (l *Loader) Load(flags *pflag.FlagSet) (*Options, error) {
	v := viper.New()
	v.SetFs(l.fs)
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if err := l.readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("no-cache"); f != nil && f.Changed {
			v.Set("cache", false)
		}
	}

	var opts Options
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&opts, hook); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}
	opts.ConfigFile = v.ConfigFileUsed()
	if opts.Concurrency == 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	return &opts, nil
}

func (l *Loader) readConfigFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	for _, name := range configNames {
		v.SetConfigName(name)
		err := v.ReadInConfig()
		if err == nil {
			return nil
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return nil
}
