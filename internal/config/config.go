// Package config reads the workspace configuration file, .pinpoint.yml,
// and turns its include/exclude globs into a file inclusion policy.
package config

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up at the workspace root.
const FileName = ".pinpoint.yml"

// Config is the workspace configuration.
type Config struct {
	// Include and Exclude are gitignore-style patterns relative to the
	// workspace root. A file is part of the workspace when it matches an
	// Include pattern and no Exclude pattern.
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
	// Conventions are Risor script paths, relative to the workspace root.
	Conventions []string `mapstructure:"conventions"`
	// MaxFiles caps how many files a directory load merges. Zero means no
	// limit.
	MaxFiles int `mapstructure:"max_files"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Include:  []string{"**/*.rb"},
		Exclude:  []string{"spec/**/*", "test/**/*", "vendor/**/*", ".bundle/**/*"},
		MaxFiles: 5000,
	}
}

// Load reads the configuration file under root. A missing file yields the
// defaults; keys absent from the file keep their default values.
func Load(root string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetDefault("include", def.Include)
	v.SetDefault("exclude", def.Exclude)
	v.SetDefault("conventions", def.Conventions)
	v.SetDefault("max_files", def.MaxFiles)

	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(root)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "config: read %s", filepath.Join(root, FileName))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.MaxFiles < 0 {
		return errors.Newf("config: max_files must not be negative, got %d", c.MaxFiles)
	}
	for _, p := range c.Conventions {
		if filepath.IsAbs(p) {
			return errors.Newf("config: convention %q must be relative to the workspace root", p)
		}
	}
	return nil
}

// Policy compiles the include and exclude patterns.
func (c *Config) Policy() *Policy {
	return &Policy{
		include:  ignore.CompileIgnoreLines(c.Include...),
		exclude:  ignore.CompileIgnoreLines(c.Exclude...),
		maxFiles: c.MaxFiles,
	}
}

// Policy decides which files belong to the workspace.
type Policy struct {
	include  *ignore.GitIgnore
	exclude  *ignore.GitIgnore
	maxFiles int
}

// Accepts reports whether rel, a path relative to the workspace root, is
// part of the workspace.
func (p *Policy) Accepts(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return false
	}
	return p.include.MatchesPath(rel) && !p.exclude.MatchesPath(rel)
}

// MaxFiles is the merge limit of a directory load. Zero means no limit.
func (p *Policy) MaxFiles() int {
	return p.maxFiles
}
