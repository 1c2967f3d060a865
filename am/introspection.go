package am

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/grove/am.toml
	SourceUser        ConfigSource = "user"        // ~/.grove/am.toml
	SourceOverrides   ConfigSource = "overrides"   // ~/.grove/am_overrides.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // GROVE_* env vars
)

// secretKeys are masked in introspection output.
var secretKeys = map[string]bool{
	"integrity.secret": true,
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"` // File path or env var name
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	Files    []string      `json:"files"`    // config files that were merged
	Settings []SettingInfo `json:"settings"` // all settings with sources
}

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string
}

// GetConfigIntrospection returns every effective setting with the source
// recorded while loading.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, err
	}
	v := GetViper()

	loadMu.Lock()
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, si := range ConfigSources {
		sources[k] = si
	}
	loadMu.Unlock()

	introspection := &ConfigIntrospection{Settings: make([]SettingInfo, 0)}
	seen := make(map[string]bool)
	for _, si := range sources {
		if !seen[si.Path] {
			seen[si.Path] = true
			introspection.Files = append(introspection.Files, si.Path)
		}
	}
	sort.Strings(introspection.Files)

	flattenSettingsWithSources(v.AllSettings(), "", introspection, sources)
	return introspection, nil
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]interface{}, prefix string, introspection *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, introspection, sourceMap)
			continue
		}

		sourceInfo := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			sourceInfo = si
		}

		// Environment wins over every file
		if envKey := EnvKey(fullKey); os.Getenv(envKey) != "" {
			sourceInfo = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		if secretKeys[fullKey] && value != "" {
			value = "********"
		}

		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     sourceInfo.Source,
			SourcePath: sourceInfo.Path,
		})
	}
}

// EnvKey returns the environment variable that overrides a dotted key.
func EnvKey(key string) string {
	return "GROVE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// CountBySource returns how many settings each source supplied.
func (ci *ConfigIntrospection) CountBySource() map[ConfigSource]int {
	counts := make(map[ConfigSource]int)
	for _, s := range ci.Settings {
		counts[s.Source]++
	}
	return counts
}
