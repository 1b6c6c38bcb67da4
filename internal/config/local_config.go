package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of giveq.yaml read directly from the file,
// bypassing the viper instance. Used before viper is initialized (the
// migrate command needs the database URL without the full config stack)
// and by tests that write throwaway config files.
type LocalConfig struct {
	DatabaseURL string `yaml:"database-url"`
	ConfigDir   string `yaml:"-"`
}

// LoadLocalConfig reads giveq.yaml from dir. Returns an empty LocalConfig
// (not nil) when the file is missing or malformed.
func LoadLocalConfig(dir string) *LocalConfig {
	path := filepath.Join(dir, "giveq.yaml")
	data, err := os.ReadFile(path) // #nosec G304 - path derived from caller-supplied dir
	if err != nil {
		return &LocalConfig{ConfigDir: dir}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{ConfigDir: dir}
	}
	cfg.ConfigDir = dir
	return &cfg
}

// DatabaseURLFor resolves the database URL for commands that run before
// viper: GIVEQ_DATABASE_URL wins, then giveq.yaml in dir.
func DatabaseURLFor(dir string) string {
	if env := os.Getenv("GIVEQ_DATABASE_URL"); env != "" {
		return env
	}
	return LoadLocalConfig(dir).DatabaseURL
}
