// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package config loads /etc/vmadm.toml: a package-level parsed value,
// small path accessors, and EnsureDirs, which creates the configured
// directories.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the schema of /etc/vmadm.toml.
type Config struct {
	Pool                  string            `toml:"pool"`
	Repo                  string            `toml:"repo"`
	ConfDir               string            `toml:"conf_dir"`
	ImageDir              string            `toml:"image_dir"`
	DevfsRuleset          uint32            `toml:"devfs_ruleset"`
	Networks              map[string]string `toml:"networks"`
	LogLevel              string            `toml:"log_level"`
	LogPath               string            `toml:"log_path"`
	CommandTimeoutSeconds int               `toml:"command_timeout_seconds"`
}

const (
	DefaultRepo         = "https://datasets.project-fifo.net/images"
	DefaultConfDir      = "/etc/jails"
	DefaultImageDir     = "/var/imgadm/images"
	DefaultDevfsRuleset = 4
	DefaultLogLevel     = "info"
)

// Parsed is the process-wide configuration, set by Load. Orchestrator
// code should prefer an explicit *Config threaded through Env.
var Parsed *Config

// Load reads and defaults the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed_to_parse_config(%s): %w", path, err)
	}

	applyDefaults(&cfg)

	if cfg.Pool == "" {
		return nil, fmt.Errorf("config_missing_required_field: pool")
	}

	Parsed = &cfg
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Repo == "" {
		cfg.Repo = DefaultRepo
	}
	if cfg.ConfDir == "" {
		cfg.ConfDir = DefaultConfDir
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = DefaultImageDir
	}
	if cfg.DevfsRuleset == 0 {
		cfg.DevfsRuleset = DefaultDevfsRuleset
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Networks == nil {
		cfg.Networks = map[string]string{}
	}
}

// EnsureDirs creates conf_dir and image_dir if absent.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.ConfDir, c.ImageDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed_to_create_directory(%s): %w", dir, err)
		}
	}
	return nil
}

func (c *Config) IndexPath() string {
	return filepath.Join(c.ConfDir, "index")
}

func (c *Config) JailConfigPath(uuid string) string {
	return filepath.Join(c.ConfDir, uuid+".json")
}

func (c *Config) ImageManifestPath(uuid string) string {
	return filepath.Join(c.ImageDir, uuid+".json")
}

func (c *Config) Bridge(nicTag string) (string, bool) {
	bridge, ok := c.Networks[nicTag]
	return bridge, ok
}
