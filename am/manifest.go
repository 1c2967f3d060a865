package am

import (
	"github.com/BurntSushi/toml"

	"github.com/teranos/grove/errors"
	"github.com/teranos/grove/pulse/schedule"
)

// JobManifest is a standalone file of job definitions:
//
//	[[job]]
//	id = "daily.rollup"
//	cadence = "daily"
//	schedule = "30 0 * * *"
//	max_retries = 5
type JobManifest struct {
	Jobs []ManifestJob `toml:"job"`
}

// ManifestJob is one [[job]] entry.
type ManifestJob struct {
	ID          string            `toml:"id"`
	Cadence     string            `toml:"cadence"`
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Schedule    string            `toml:"schedule"`
	MaxRetries  int               `toml:"max_retries"`
	Disabled    bool              `toml:"disabled"`
	Metadata    map[string]string `toml:"metadata"`
}

// LoadJobManifest decodes a job manifest file into definitions. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func LoadJobManifest(path string) ([]schedule.Definition, error) {
	var manifest JobManifest
	meta, err := toml.DecodeFile(path, &manifest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode job manifest %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.WithHint(
			errors.Newf("job manifest %s has unknown keys: %v", path, undecoded),
			"valid keys are id, cadence, name, description, schedule, max_retries, disabled, metadata")
	}

	defs := make([]schedule.Definition, 0, len(manifest.Jobs))
	seen := make(map[string]bool, len(manifest.Jobs))
	for i, j := range manifest.Jobs {
		if j.ID == "" {
			return nil, errors.NewInvalidRequestError("job #%d in %s has no id", i+1, path)
		}
		if seen[j.ID] {
			return nil, errors.NewInvalidRequestError("job %q declared twice in %s", j.ID, path)
		}
		seen[j.ID] = true

		cadence, err := schedule.ParseCadence(j.Cadence)
		if err != nil {
			return nil, errors.Wrapf(err, "job %q", j.ID)
		}
		defs = append(defs, schedule.Definition{
			ID:          j.ID,
			Cadence:     cadence,
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.Schedule,
			MaxRetries:  j.MaxRetries,
			Disabled:    j.Disabled,
			Metadata:    j.Metadata,
		})
	}
	return defs, nil
}

// MergeDefinitions overlays manifest definitions onto base by ID. Manifest
// entries replace the matching base entry field by field where set; entries
// without a base counterpart are appended.
func MergeDefinitions(base, manifest []schedule.Definition) []schedule.Definition {
	out := make([]schedule.Definition, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.ID] = i
	}

	for _, m := range manifest {
		i, ok := index[m.ID]
		if !ok {
			index[m.ID] = len(out)
			out = append(out, m)
			continue
		}
		d := out[i]
		d.Cadence = m.Cadence
		if m.Name != "" {
			d.Name = m.Name
		}
		if m.Description != "" {
			d.Description = m.Description
		}
		if m.Schedule != "" {
			d.Schedule = m.Schedule
		}
		if m.MaxRetries != 0 {
			d.MaxRetries = m.MaxRetries
		}
		if m.Metadata != nil {
			d.Metadata = m.Metadata
		}
		d.Disabled = m.Disabled
		out[i] = d
	}
	return out
}
