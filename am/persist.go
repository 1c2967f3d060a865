package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/logger"
)

// OverridesFile is the CLI-managed config file inside ~/.grove.
const OverridesFile = "am_overrides.toml"

// OverridesPath returns the path of the CLI-managed overrides file.
func OverridesPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, OverridesFile)
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "file", back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// loadOrInitialize reads a TOML file into a generic map, or returns an empty
// map when the file does not exist yet.
func loadOrInitialize(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return nil, errors.Wrap(err, "failed to create config directory")
	}

	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read overrides")
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// save writes the config map with backup
func save(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write overrides")
	}
	return nil
}

// table returns the nested table under key, creating it when missing.
func table(parent map[string]interface{}, key string) map[string]interface{} {
	if t, ok := parent[key].(map[string]interface{}); ok {
		return t
	}
	t := make(map[string]interface{})
	parent[key] = t
	return t
}

// SaveJobOverride persists scheduler.jobs.<id>.enabled in the overrides file
// at configPath. Other settings in the file are preserved.
func SaveJobOverride(configPath, jobID string, enabled bool) error {
	if configPath == "" {
		return errors.New("could not determine overrides path")
	}
	cadence, name, ok := strings.Cut(jobID, ".")
	if !ok || cadence == "" || name == "" {
		return errors.NewInvalidRequestError("job id %q must look like <cadence>.<name>", jobID)
	}

	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}

	job := table(table(table(table(config, "scheduler"), "jobs"), cadence), name)
	job["enabled"] = enabled

	return save(config, configPath)
}

// ClearJobOverride removes any persisted override for a job.
func ClearJobOverride(configPath, jobID string) error {
	cadence, name, ok := strings.Cut(jobID, ".")
	if !ok {
		return errors.NewInvalidRequestError("job id %q must look like <cadence>.<name>", jobID)
	}
	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}

	scheduler, _ := config["scheduler"].(map[string]interface{})
	jobs, _ := scheduler["jobs"].(map[string]interface{})
	group, _ := jobs[cadence].(map[string]interface{})
	if _, found := group[name]; !found {
		return nil
	}
	delete(group, name)
	if len(group) == 0 {
		delete(jobs, cadence)
	}
	return save(config, configPath)
}
