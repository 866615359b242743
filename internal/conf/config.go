// SPDX-License-Identifier: EPL-2.0

// Package conf loads runtime settings from defaults, an optional config.yaml
// and SAMPLEPREP_* environment variables.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SAMPLEPREP_LOG_LEVEL.
const EnvPrefix = "SAMPLEPREP"

type Settings struct {
	DataDir string

	Storage struct {
		Path string // sqlite file; relative paths resolve under DataDir
	}

	Audio struct {
		SampleRate int
	}

	Cache struct {
		MaxPreviews int
	}

	Sources struct {
		MaxCached    int
		FetchTimeout time.Duration
		BaseURL      string // resolves external ids that are not absolute URLs
	}

	Sandbox struct {
		Command             string
		Args                []string
		AckTimeout          time.Duration
		InstallTimeout      time.Duration
		RunTimeoutPerSecond time.Duration
		MinRunTimeout       time.Duration
		MaxPluginSize       int64
	}

	TabSync struct {
		Dir string
	}

	Transfer struct {
		Command          string
		Args             []string
		ProgressInterval time.Duration
		Workers          int
	}

	Log struct {
		Level      string
		File       string
		MaxSizeMB  int
		MaxBackups int
	}

	Metrics struct {
		Enabled bool
		Listen  string
	}
}

// NewViper returns a viper instance with defaults, env binding and the
// standard config search path applied. configFile, if set, is used instead
// of searching.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		return v
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range defaultConfigPaths() {
		v.AddConfigPath(path)
	}
	return v
}

// Load reads the config file if present, unmarshals and validates.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settings.resolvePaths()

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func (s *Settings) resolvePaths() {
	if s.Storage.Path != "" && !filepath.IsAbs(s.Storage.Path) {
		s.Storage.Path = filepath.Join(s.DataDir, s.Storage.Path)
	}
	if s.TabSync.Dir == "" {
		s.TabSync.Dir = s.DataDir
	}
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "sampleprep"))
	}
	return paths
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "sampleprep")
	}
	return ".sampleprep"
}
