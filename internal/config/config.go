// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads host configuration and function catalog files.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Query-farm/plcontainer-go/plc"
)

// ContainerConfig describes how to launch the runtime of one container.
type ContainerConfig struct {
	Command  []string          `mapstructure:"command"`
	Env      map[string]string `mapstructure:"env"`
	Dir      string            `mapstructure:"dir"`
	Image    string            `mapstructure:"image"`
	Memory   string            `mapstructure:"memory"`
	Network  bool              `mapstructure:"network"`
	Runtime  string            `mapstructure:"runtime"`
	Compress bool              `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Config struct {
	LogLevel      string                     `mapstructure:"log_level"`
	RuntimeLevel  string                     `mapstructure:"runtime_log_level"`
	Compression   bool                       `mapstructure:"compression"`
	DebugErrors   bool                       `mapstructure:"debug_errors"`
	Database      DatabaseConfig             `mapstructure:"database"`
	FunctionsFile string                     `mapstructure:"functions_file"`
	Containers    map[string]ContainerConfig `mapstructure:"containers"`
}

// Load reads the configuration. With an empty path it looks for plc.yaml in
// the working directory and in $HOME/.plc, and a missing file leaves the
// defaults in place. Environment variables prefixed with PLC_ override file
// values, e.g. PLC_LOG_LEVEL or PLC_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plc")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.plc")
	}

	v.SetDefault("log_level", "info")
	v.SetDefault("runtime_log_level", "info")
	v.SetDefault("compression", false)
	v.SetDefault("debug_errors", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ":memory:")

	v.SetEnvPrefix("PLC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// ContainerSpecs converts the configured containers into launch specs,
// sorted by name. The global compression setting applies to every
// container.
func (c *Config) ContainerSpecs() []plc.ContainerSpec {
	names := make([]string, 0, len(c.Containers))
	for name := range c.Containers {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]plc.ContainerSpec, 0, len(names))
	for _, name := range names {
		cc := c.Containers[name]
		spec := plc.ContainerSpec{
			Name:     name,
			Command:  cc.Command,
			Dir:      cc.Dir,
			Compress: cc.Compress || c.Compression,
		}
		keys := make([]string, 0, len(cc.Env))
		for k := range cc.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			spec.Env = append(spec.Env, strings.ToUpper(k)+"="+cc.Env[k])
		}
		if cc.Image != "" {
			spec.Docker = &plc.DockerPolicy{
				Image:   cc.Image,
				Memory:  cc.Memory,
				Network: cc.Network,
				Runtime: cc.Runtime,
			}
		}
		specs = append(specs, spec)
	}
	return specs
}

// functionsFile is the layout of a function catalog file.
type functionsFile struct {
	Functions []plc.FunctionDef `yaml:"functions"`
}

// LoadFunctions reads a YAML function catalog:
//
//	functions:
//	  - name: add_one
//	    src: |
//	      # container: python shared
//	    arg_names: [x]
//	    arg_types: [int4]
//	    return_type: int4
func LoadFunctions(path string) ([]plc.FunctionDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading functions file: %w", err)
	}
	var f functionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing functions file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Functions))
	for i, def := range f.Functions {
		if def.Name == "" {
			return nil, fmt.Errorf("functions file %s: entry %d has no name", path, i)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("functions file %s: duplicate function %q", path, def.Name)
		}
		seen[def.Name] = true
	}
	return f.Functions, nil
}

// Catalog loads a function catalog file into a static catalog.
func Catalog(path string) (plc.StaticCatalog, error) {
	defs, err := LoadFunctions(path)
	if err != nil {
		return nil, err
	}
	cat := make(plc.StaticCatalog, len(defs))
	for i := range defs {
		cat[defs[i].Name] = &defs[i]
	}
	return cat, nil
}
