package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/grove/errors"
)

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// ConfigSources records which source supplied each dotted key during the
// last load. Keys absent from the map come from built-in defaults.
var ConfigSources = make(map[string]SourceInfo)

// Load reads the grove configuration using Viper
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults and environment. The file must exist.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	if err := mergeFile(v, configPath, SourceProject, make(map[string]SourceInfo)); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = make(map[string]SourceInfo)
}

// newViper returns a Viper with defaults and GROVE_* environment binding.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("GROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	return v
}

// initViper initializes Viper with configuration sources and defaults.
// Callers hold loadMu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	sources := make(map[string]SourceInfo)
	for _, f := range configFiles() {
		if _, err := os.Stat(f.path); err != nil {
			continue
		}
		// A malformed file is skipped rather than aborting the whole load;
		// Validate still catches bad values that make it through.
		_ = mergeFile(v, f.path, f.source, sources)
	}

	ConfigSources = sources
	viperInstance = v
	return v
}

type configFile struct {
	path   string
	source ConfigSource
}

// configFiles lists config files in precedence order (lowest first).
func configFiles() []configFile {
	files := []configFile{{"/etc/grove/am.toml", SourceSystem}}

	if dir := UserConfigDir(); dir != "" {
		files = append(files,
			configFile{filepath.Join(dir, "am.toml"), SourceUser},
			configFile{filepath.Join(dir, OverridesFile), SourceOverrides},
		)
	}
	if project := findProjectConfig(); project != "" {
		files = append(files, configFile{project, SourceProject})
	}
	return files
}

// CandidateFiles lists every config file path Load checks, lowest
// precedence first, whether or not it exists.
func CandidateFiles() []string {
	files := configFiles()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths
}

// UserConfigDir returns ~/.grove, or empty when the home directory is unknown.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".grove")
}

// findProjectConfig searches for am.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeFile copies every leaf key of a TOML file into v and records its
// source. Leaves are merged individually so a later file overrides single
// keys without clobbering sibling settings from earlier files.
func mergeFile(v *viper.Viper, path string, source ConfigSource, sources map[string]SourceInfo) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	tmp.SetConfigType("toml")
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range tmp.AllKeys() {
		v.Set(key, tmp.Get(key))
	}
	markSettingsFromSource(tmp.AllSettings(), "", source, path, sources)
	return nil
}

// markSettingsFromSource records source for every leaf of a nested settings map.
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, sources map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nested, fullKey, source, path, sources)
			continue
		}
		sources[fullKey] = SourceInfo{Source: source, Path: path}
	}
}
