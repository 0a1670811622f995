// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// DefaultWatchPatterns are indexed when a project declares none.
var DefaultWatchPatterns = []string{"**/*.md", "**/*.yaml", "**/*.toml", "**/*.json"}

// DefaultWatchExclude keeps dependency and build trees out of the index.
var DefaultWatchExclude = []string{
	"**/node_modules/**",
	"**/vendor/**",
	"**/.git/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
}

// ProjectConfig describes one project's indexing and retrieval settings.
type ProjectConfig struct {
	WatchPaths    []string `mapstructure:"watch_paths" yaml:"watch_paths,omitempty"`
	WatchPatterns []string `mapstructure:"watch_patterns" yaml:"watch_patterns,omitempty"`
	WatchExclude  []string `mapstructure:"watch_exclude" yaml:"watch_exclude,omitempty"`
	Watch         bool     `mapstructure:"watch" yaml:"watch"`
	// Backend overrides storage.backend for this project.
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`
	// Weight scales this project's scores in cross-project search.
	Weight float64 `mapstructure:"weight" yaml:"weight,omitempty"`
}

// StorageConfig selects and parameterizes the vector engine.
type StorageConfig struct {
	// Backend is "chromem" (default) or "sqlvec".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// PostgresDSN switches the sqlvec backend from SQLite to Postgres.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty"`
	// SplitByChunkType stores agent memories and file chunks in separate
	// collections of the same engine.
	SplitByChunkType bool `mapstructure:"split_by_chunk_type" yaml:"split_by_chunk_type,omitempty"`
}

// Thresholds holds the similarity cutoffs. All are uncalibrated defaults
// pending real-world tuning, which is why they are configuration and not
// constants.
type Thresholds struct {
	// Dedup rejects an insert whose nearest same-type neighbor is at or
	// above this similarity.
	Dedup float64 `mapstructure:"dedup" yaml:"dedup"`
	// SoftDedup attaches a possible-duplicate hint for neighbors between
	// it and Dedup.
	SoftDedup float64 `mapstructure:"soft_dedup" yaml:"soft_dedup"`
	// FuzzyTag admits a known tag into an expanded tag filter.
	FuzzyTag float64 `mapstructure:"fuzzy_tag" yaml:"fuzzy_tag"`
	// DedupCandidates is how many nearest neighbors the dedup check
	// examines. Checking only the single nearest misses near-duplicates
	// ranked behind unrelated closer content.
	DedupCandidates int `mapstructure:"dedup_candidates" yaml:"dedup_candidates"`
}

// Config is the daemon configuration.
type Config struct {
	DataDir    string                   `mapstructure:"data_dir" yaml:"data_dir"`
	Port       int                      `mapstructure:"port" yaml:"port"`
	Projects   map[string]ProjectConfig `mapstructure:"projects" yaml:"projects"`
	Storage    StorageConfig            `mapstructure:"storage" yaml:"storage"`
	Thresholds Thresholds               `mapstructure:"thresholds" yaml:"thresholds"`

	path string
}

// ProjectNames lists registered projects.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for name := range c.Projects {
		names = append(names, name)
	}
	return names
}

// HasProject reports whether a project is registered.
func (c *Config) HasProject(name string) bool {
	_, ok := c.Projects[name]
	return ok
}
